package main

import (
	"fmt"
	"os"

	"github.com/beamchat/link-server-go/internal/util"
)

func main() {
	secret, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(secret)
}
