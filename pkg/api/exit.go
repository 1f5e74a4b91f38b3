package api

import "os"

func defaultOSExit(code int) {
	os.Exit(code)
}
