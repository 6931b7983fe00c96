package main

import (
	"fmt"
	"os"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/logging"
	"github.com/tsawler/cxr-probe/vision/dataset"
)

func main() {
	args := struct {
		DataDir string `arg:"positional,required" help:"MC root containing CXR_png"`
	}{}
	arg.MustParse(&args)

	logger, err := logging.New("info", false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	counts, err := dataset.MakeMCSplits(args.DataDir)
	if err != nil {
		logger.Error("failed to split MC images", zap.String("data_dir", args.DataDir), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	for _, split := range []dataset.Split{dataset.Train, dataset.Val, dataset.Test} {
		logger.Info("split written", zap.Stringer("split", split), zap.Int("images", counts[split]))
	}
}
