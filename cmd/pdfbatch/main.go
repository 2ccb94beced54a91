// Command pdfbatch applies document operations to PDF files, one-shot
// or in bulk through a job file.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
