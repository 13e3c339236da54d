// Package worker is the program installed as the Batch application package:
// it streams one blob through PGP encryption into another blob.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/pkg/blobstore"
	"github.com/andrej220/blobcrypt/pkg/keystore"
	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/pgp"
)

// DefaultRecipient owns the public key blobs are encrypted to.
const DefaultRecipient = "recipient@acmcompany.com"

const StatusDone = "done"

type Deps struct {
	Blobs     blobstore.Store
	Keys      *keystore.Store
	Recipient string
	Armored   bool
	// Out receives the summary lines; nil discards them.
	Out io.Writer
}

// Report is what EncryptBlob prints as "key: value" lines on success.
type Report struct {
	Source      string
	Destination string
	BytesIn     int64
	Status      string
}

func (r Report) Lines() []string {
	return []string{
		"source: " + r.Source,
		"destination: " + r.Destination,
		fmt.Sprintf("bytes_in: %d", r.BytesIn),
		"status: " + r.Status,
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// EncryptBlob encrypts the source blob to the recipient's public key and
// uploads the result as the destination blob. The literal data packet carries
// the source blob name.
func EncryptBlob(ctx context.Context, deps Deps, p jobspec.Params) (Report, error) {
	if err := p.Validate(); err != nil {
		return Report{}, fmt.Errorf("invalid parameters: %w", err)
	}
	if deps.Blobs == nil || deps.Keys == nil {
		return Report{}, errors.New("worker: blob store and key store are required")
	}
	recipient := deps.Recipient
	if recipient == "" {
		recipient = DefaultRecipient
	}
	log := lg.FromContext(ctx).With(
		lg.String("source", p.SourceContainer+"/"+p.SourceBlob),
		lg.String("destination", p.DestinationContainer+"/"+p.DestinationBlob),
	)

	publicKey, err := deps.Keys.GetPublicKey(ctx, recipient)
	if err != nil {
		return Report{}, err
	}

	src, err := deps.Blobs.Open(ctx, p.SourceContainer, p.SourceBlob)
	if err != nil {
		return Report{}, err
	}
	defer src.Close()
	in := &countingReader{r: src}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(pgp.EncryptString(in, p.SourceBlob, publicKey, pw, deps.Armored))
	}()
	if err := deps.Blobs.Upload(ctx, p.DestinationContainer, p.DestinationBlob, pr); err != nil {
		pr.CloseWithError(err)
		return Report{}, err
	}

	rep := Report{
		Source:      p.SourceContainer + "/" + p.SourceBlob,
		Destination: p.DestinationContainer + "/" + p.DestinationBlob,
		BytesIn:     in.n,
		Status:      StatusDone,
	}
	log.Info("blob encrypted", lg.Int("bytes_in", int(rep.BytesIn)), lg.Bool("armored", deps.Armored))
	if deps.Out != nil {
		if _, err := io.WriteString(deps.Out, strings.Join(rep.Lines(), "\n")+"\n"); err != nil {
			return rep, fmt.Errorf("write summary: %w", err)
		}
	}
	return rep, nil
}
