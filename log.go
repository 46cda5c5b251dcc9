package andersen

import (
	log "github.com/sirupsen/logrus"
)

func defaultLogger() *log.Entry {
	return log.StandardLogger().WithField("component", "andersen")
}
