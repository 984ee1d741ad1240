// Package builder drives the multi-phase construction of a Google Slides
// presentation from parsed slide records.
package builder

import (
	"context"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"
)

// SlidesService abstracts the Google Slides API for testing. batchUpdate is
// the sole mutation primitive; everything structural goes through it.
type SlidesService interface {
	CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error)
	GetPresentation(ctx context.Context, presentationID, fields string) (*slides.Presentation, error)
	GetPage(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error)
	BatchUpdate(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error)
}

// SlidesServiceFactory creates a Slides service from a token source.
type SlidesServiceFactory func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error)

// realSlidesService wraps the actual Google Slides API.
type realSlidesService struct {
	service *slides.Service
}

// CreatePresentation creates a new presentation shell.
func (s *realSlidesService) CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error) {
	return s.service.Presentations.Create(presentation).Context(ctx).Do()
}

// GetPresentation retrieves a presentation, optionally restricted to fields.
func (s *realSlidesService) GetPresentation(ctx context.Context, presentationID, fields string) (*slides.Presentation, error) {
	call := s.service.Presentations.Get(presentationID).Context(ctx)
	if fields != "" {
		call = call.Fields(googleapi.Field(fields))
	}
	return call.Do()
}

// GetPage retrieves a single page, used to resolve notes-page shapes.
func (s *realSlidesService) GetPage(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error) {
	return s.service.Presentations.Pages.Get(presentationID, pageObjectID).Context(ctx).Do()
}

// BatchUpdate applies a batch of requests atomically.
func (s *realSlidesService) BatchUpdate(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
	return s.service.Presentations.BatchUpdate(presentationID, &slides.BatchUpdatePresentationRequest{
		Requests: requests,
	}).Context(ctx).Do()
}

// NewRealSlidesServiceFactory returns a factory that creates real Slides services.
func NewRealSlidesServiceFactory() SlidesServiceFactory {
	return func(ctx context.Context, tokenSource oauth2.TokenSource) (SlidesService, error) {
		service, err := slides.NewService(ctx, option.WithTokenSource(tokenSource))
		if err != nil {
			return nil, err
		}
		return &realSlidesService{service: service}, nil
	}
}
