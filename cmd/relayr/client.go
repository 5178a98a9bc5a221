package main

import (
	"context"

	"github.com/loykin/relayr/pkg/client"
)

// newClient builds the daemon client for a command's API flags.
func newClient(f APIFlags) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
	})
}

func requestContext(parent context.Context) context.Context {
	if parent == nil {
		return context.Background()
	}
	return parent
}
