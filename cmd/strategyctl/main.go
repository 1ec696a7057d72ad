// Command strategyctl manages pipeline strategies stored in DynamoDB or S3.
package main

import (
	"os"
	"time"
)

func init() {
	time.Local = time.UTC
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
