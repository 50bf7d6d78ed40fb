//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"
)

func InitializeRunner(ctx context.Context, cfg RunConfig, logging LoggingConfig) (*Runner, func(), error) {
	wire.Build(RunnerSet)
	return nil, nil, nil
}
