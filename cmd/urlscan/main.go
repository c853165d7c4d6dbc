package main

import (
	"context"
	"fmt"
	"os"

	"github.com/censys/url-reputation/pkg/cli"
)

func main() {
	if err := cli.NewRoot().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "urlscan:", err)
		os.Exit(1)
	}
}
