package internal

import (
	"fmt"
	"log"
	"os"
)

// Logging is the minimal logger contract used by the library. Embedding
// applications can plug in their own implementation via SetLogger.
type Logging interface {
	Printf(format string, v ...interface{})
}

type logger struct {
	log *log.Logger
}

func (l *logger) Printf(format string, v ...interface{}) {
	_ = l.log.Output(2, fmt.Sprintf(format, v...))
}

var l Logging = &logger{
	log: log.New(os.Stdout, "redlocker: ", log.LstdFlags|log.Lshortfile),
}

func SetLogger(logger Logging) {
	l = logger
}

func GetLogger() Logging {
	return l
}
