package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goRegistry/internal/metrics"
	"github.com/MrEthical07/goRegistry/store"
	"github.com/sirupsen/logrus"
)

// IndexVerifier makes sure an index document holds a required set of
// definitions, rebuilding the document when any of them is absent or differs.
type IndexVerifier struct {
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewIndexVerifier creates a verifier. A nil log uses the standard logger.
func NewIndexVerifier(log *logrus.Entry, m *metrics.Metrics) *IndexVerifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &IndexVerifier{
		log:     log.WithField("component", "index-verifier"),
		metrics: m,
	}
}

// Ensure verifies that document contains every definition in required. When
// all are present with identical map and reduce source it does nothing.
// Otherwise the whole document is rebuilt from required and pushed once.
func (v *IndexVerifier) Ensure(ctx context.Context, client store.Client, document string, required []store.IndexDefinition) error {
	log := v.log.WithField("document", document)

	err := v.check(ctx, client, document, required)
	switch {
	case err == nil:
		v.metrics.Inc(metrics.IndexVerified)
		log.Info("indexes present")
		return nil
	case errors.Is(err, errIndexMissing):
		log.WithError(err).Warn("indexes missing or outdated, rebuilding")
	default:
		v.metrics.Inc(metrics.IndexFailure)
		log.WithError(err).Error("failed to read index document")
		return store.Transport(err)
	}

	doc := store.IndexDocument{
		Name:    document,
		Indexes: append([]store.IndexDefinition(nil), required...),
	}
	if err := client.CreateIndexDocument(ctx, doc); err != nil {
		v.metrics.Inc(metrics.IndexFailure)
		log.WithError(err).Error("failed to create index document")
		return fmt.Errorf("%w: %s: %w", ErrIndexCreation, document, err)
	}

	v.metrics.Inc(metrics.IndexRebuilt)
	log.WithField("indexes", len(required)).Info("index document created")
	return nil
}

func (v *IndexVerifier) check(ctx context.Context, client store.Client, document string, required []store.IndexDefinition) error {
	doc, err := client.IndexDocument(ctx, document)
	if err != nil {
		if errors.Is(err, store.ErrIndexMissing) {
			return fmt.Errorf("%w: document %s does not exist", errIndexMissing, document)
		}
		return err
	}

	for _, want := range required {
		have, ok := doc.Index(want.Name)
		if !ok {
			return fmt.Errorf("%w: %s/%s not defined", errIndexMissing, document, want.Name)
		}
		if !have.Equal(want) {
			return fmt.Errorf("%w: %s/%s drifted", errIndexMissing, document, want.Name)
		}
	}
	return nil
}
