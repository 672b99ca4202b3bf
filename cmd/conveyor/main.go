package main

import (
	"fmt"
	"os"
)

func main() {
	code, err := execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(code)
}
