// Command draftmigrate rewrites survey drafts whose catalog references were
// stored with string ids so that every id is numeric.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
