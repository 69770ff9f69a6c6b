package main

import (
	"flag"

	"github.com/seedlethq/fieldsync/fakeserver"
	"github.com/seedlethq/fieldsync/utils/dotenv"
	. "github.com/seedlethq/fieldsync/utils/log"
)

var addr *string

// init() will always be called on before the execution of main function.
func init() {
	addr = flag.String("addr", ":8080", "address to serve the fake backend on")
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func main() {
	flag.Parse()

	server := fakeserver.NewServer()
	router := server.Router()

	Log.Info("fake seedlet backend starts up on ", *addr)
	if err := router.Run(*addr); err != nil {
		Log.Fatal("fail to serve fake backend : ", err)
	}
}
