package main

import (
	"fmt"
	"os"

	"github.com/openclaw/wa-session-broker/internal/util"
)

func main() {
	token := ""
	if len(os.Args) >= 2 {
		token = os.Args[1]
	} else {
		generated, err := util.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = generated
		fmt.Printf("token: %s\n", token)
	}

	fmt.Println(util.HashToken(token))
}
