//	@title			ragpipe API
//	@version		1.0
//	@description	Document ingestion, similarity search and retrieval augmented answers over a local vector store

//	@license.name	MIT

//	@BasePath	/api/v1

//	@tag.name			documents
//	@tag.description	Document upload, ingestion and removal

//	@tag.name			retrieval
//	@tag.description	Similarity search, context retrieval and answers

//	@tag.name			health
//	@tag.description	Dependency health

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/compozy/ragpipe/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.RootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
