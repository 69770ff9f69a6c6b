/*
flag Package set up cli flags shared across binaries

Usage:

	Flags listed in this package are shared across boundaries and binary-agnostic
	For binary dependent flags please define in their respective package
*/

package flag

import (
	"flag"
)

const (
	FieldWatch = "field_watch"
	FakeServer = "fake_server"
)

var (
	IsDevelopment bool
	ServiceName   string
)

func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", FieldWatch, "'field_watch' or 'fake_server'")
}
