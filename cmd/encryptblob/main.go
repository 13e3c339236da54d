// encryptblob runs on a Batch node as the application package: it encrypts
// one blob with the recipient's PGP public key.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/internal/worker"
	"github.com/andrej220/blobcrypt/pkg/lg"
)

const usage = "Expected parameters <source-container> <source-blob> <destination-container> <destination-blob>"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	logCfg := lg.RegisterFlags(fs, serviceName)
	configPath := fs.String("config", "", "optional YAML config file")
	armored := fs.Bool("armor", false, "ASCII armor the encrypted blob")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 4 {
		fmt.Fprintln(stdout, usage)
		return 0
	}

	logger := lg.New(logCfg)
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration", lg.Err(err))
		fmt.Fprintln(stderr, err)
		return 1
	}
	blobs, keys, err := dependencies(ctx, cfg)
	if err != nil {
		logger.Error("azure clients", lg.Err(err))
		fmt.Fprintln(stderr, err)
		return 1
	}

	a := fs.Args()
	p := jobspec.Params{SourceContainer: a[0], SourceBlob: a[1], DestinationContainer: a[2], DestinationBlob: a[3]}
	deps := worker.Deps{
		Blobs:     blobs,
		Keys:      keys,
		Recipient: cfg.Recipient,
		Armored:   cfg.Armored || *armored,
		Out:       stdout,
	}
	if _, err := worker.EncryptBlob(ctx, deps, p); err != nil {
		logger.Error("encryption failed", lg.Err(err))
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
