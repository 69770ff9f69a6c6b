package log

import (
	"os"

	"github.com/seedlethq/fieldsync/utils/dotenv"
	"github.com/seedlethq/fieldsync/utils/flag"
	"github.com/sirupsen/logrus"
)

// global accessible logger
var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// This init function is only for testing cases, where the entry point is not
// main function. Unit test will fail with nil pointer dereference if we don't
// init here.
func init() {
	InitLogger()
}

func InitLogger() {
	logger = logrus.New()

	// Structured output in prod for log ingestion, plain text everywhere else
	// for readability.
	if os.Getenv("SEEDLET_ENV") == dotenv.ProdEnv {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetOutput(os.Stderr)

	Log = logger.WithFields(
		logrus.Fields{"service": flag.ServiceName, "is_development": os.Getenv("SEEDLET_ENV") != dotenv.ProdEnv},
	)
}
