// Package main is the entry point for the biped walker Viam module.
package main

import (
	"context"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/utils"

	// Import packages to register components
	"github.com/clintpurser/biped/biped"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("biped"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	mod, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	// Register the walker component
	if err := mod.AddModelFromRegistry(ctx, generic.API, biped.Model); err != nil {
		return err
	}

	if err := mod.Start(ctx); err != nil {
		return err
	}
	defer mod.Close(ctx)

	logger.Infof("biped module started with model %s", biped.Model)
	<-ctx.Done()
	return nil
}
