package main

import (
	"context"

	"github.com/Blackdeer1524/PageStore/cmd/pagestore/app"
)

func main() {
	app.MustExecute(context.Background())
}
