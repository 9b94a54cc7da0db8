package ingest

import (
	"context"
	"iter"

	"github.com/lysyi3m/samwatch/app/samapi"
)

// Source is the part of the SAM.gov client the pipeline depends on.
type Source interface {
	SearchOpportunities(ctx context.Context, params samapi.SearchParams) (*samapi.SearchPage, error)
	IterSearch(ctx context.Context, params samapi.SearchParams) iter.Seq2[samapi.Record, error]
	FetchDescription(ctx context.Context, descriptionURL string) (string, error)
	DownloadAttachment(ctx context.Context, rawURL, dest string) (*samapi.AttachmentDownload, error)
}

var _ Source = (*samapi.Client)(nil)
