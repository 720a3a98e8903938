package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/boot"
	"uk.co.dudmesh.gatehouse/internal/docstore"
)

const usage = `usage: authctl COMMAND [ARGS]

commands:
  get-config KEY
  set-config KEY VALUE [ALLOWED...]
  reset-password HANDLE
  grant HANDLE ROLE
  revoke HANDLE ROLE
  revoke-tokens HANDLE
  delete-user HANDLE
  purge-tokens
  export-users [-o FILE]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}
	level, _ := config.Level()
	log.SetLevel(level)

	docs, err := docstore.Open(config.Store, config.DataDirectory())
	if err != nil {
		log.Fatalf("opening document store: %+v", err)
	}
	defer docs.Close()

	cli := newCLI(docs, config, os.Stdout)
	if err := cli.run(os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			docs.Close()
			os.Exit(2)
		}
		log.Errorf("%s: %+v", os.Args[1], err)
		docs.Close()
		os.Exit(1)
	}
}
