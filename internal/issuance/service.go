package issuance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certify/internal/metrics"
	"certify/internal/render"
)

// Store is the backing store the workflow reads eligibility from and appends
// issuance records to.
type Store interface {
	// Ready reports whether the store can serve requests.
	Ready(ctx context.Context) error
	// FindAttendee returns nil, nil when no record matches.
	FindAttendee(ctx context.Context, reg string, track Track) (*AttendanceRecord, error)
	AppendIssuance(ctx context.Context, rec IssuanceRecord) (IssuanceRecord, error)
}

// Roster loads and clears attendees.
type Roster interface {
	InsertAttendees(ctx context.Context, recs []AttendanceRecord) (int, error)
	DeleteAttendees(ctx context.Context) (int64, error)
	// ReplaceAttendees swaps the whole roster atomically and reports how
	// many attendees were removed and inserted.
	ReplaceAttendees(ctx context.Context, recs []AttendanceRecord) (int64, int, error)
}

// Backend is everything a store implementation provides. Repository and
// MemoryStore both satisfy it.
type Backend interface {
	Store
	Roster
	ListIssuances(ctx context.Context, f IssuanceFilter) ([]IssuanceRecord, error)
}

var (
	_ Backend = (*Repository)(nil)
	_ Backend = (*MemoryStore)(nil)
)

// TemplateSource resolves the template for a track.
type TemplateSource interface {
	Template(ctx context.Context, track Track) (render.Template, error)
}

// Renderer overlays text on a template.
type Renderer interface {
	Render(ctx context.Context, tpl render.Template, ov render.Overlay) ([]byte, error)
}

// Notifier is told about every certificate that was produced.
type Notifier interface {
	Notify(ctx context.Context, rec IssuanceRecord) error
}

// Service runs the issuance workflow.
type Service struct {
	store     Store
	templates TemplateSource
	renderer  Renderer
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the issuance timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the workflow. The store, template source and renderer are
// shared by all requests.
func NewService(store Store, templates TemplateSource, renderer Renderer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		templates: templates,
		renderer:  renderer,
		logger:    slog.Default(),
		tracer:    otel.Tracer("certify/issuance"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue checks eligibility for req, appends an issuance record and renders
// the certificate. The record is appended before rendering and is not rolled
// back if rendering fails. A failed append does not fail the request.
func (s *Service) Issue(ctx context.Context, req Request) (Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.Issue")
	defer span.End()

	cert, err := s.issue(ctx, span, req)
	if err != nil {
		kind := KindOf(err)
		s.metrics.IssueFailed(string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		level := slog.LevelError
		if kind == KindInvalidPayload || kind == KindNotEligible || kind == KindNoNameOnRecord {
			level = slog.LevelInfo
		}
		s.logger.Log(ctx, level, "certificate not issued", "reg", req.Reg, "track", req.Track, "kind", kind, "err", err)
		return Certificate{}, err
	}
	s.metrics.IssueSucceeded(cert.Record.Track.String())
	s.logger.Info("certificate issued", "reg", cert.Record.Reg, "track", cert.Record.Track, "file", cert.Filename, "logged", cert.Logged)
	return cert, nil
}

func (s *Service) issue(ctx context.Context, span trace.Span, req Request) (Certificate, error) {
	reg := NormalizeReg(req.Reg)
	if reg == "" {
		return Certificate{}, fmt.Errorf("%w: registration number required", ErrInvalidPayload)
	}
	track := req.Track
	if !track.Valid() {
		track = DefaultTrack
	}
	span.SetAttributes(attribute.String("reg", reg), attribute.String("track", track.String()))

	if err := s.store.Ready(ctx); err != nil {
		return Certificate{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	attendee, err := s.store.FindAttendee(ctx, reg, track)
	if err != nil {
		return Certificate{}, fmt.Errorf("%w: find attendee: %w", ErrStoreUnavailable, err)
	}
	if attendee == nil || !attendee.Attended {
		return Certificate{}, fmt.Errorf("%w: %s/%s", ErrNotEligible, reg, track)
	}
	name := strings.TrimSpace(attendee.Name)
	if name == "" {
		return Certificate{}, fmt.Errorf("%w: %s/%s", ErrNoNameOnRecord, reg, track)
	}

	rec := IssuanceRecord{Name: name, Reg: reg, Track: track, IssuedAt: s.now().UTC()}
	logged := true
	if stored, err := s.store.AppendIssuance(ctx, rec); err != nil {
		logged = false
		s.metrics.AuditWriteFailed()
		span.AddEvent("audit write failed", trace.WithAttributes(attribute.String("error", err.Error())))
		s.logger.Warn("issuance log append failed, rendering anyway", "reg", reg, "track", track, "err", err)
	} else {
		rec = stored
	}

	tpl, err := s.templates.Template(ctx, track)
	if err != nil {
		return Certificate{}, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)
	}

	start := time.Now()
	pdf, err := s.renderer.Render(ctx, tpl, render.Overlay{Name: name, Reg: reg, IssuedAt: rec.IssuedAt})
	s.metrics.ObserveRender(time.Since(start))
	if err != nil {
		return Certificate{}, fmt.Errorf("%w: %w", ErrRender, err)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, rec); err != nil {
			s.logger.Warn("issuance notification failed", "reg", reg, "track", track, "err", err)
		}
	}

	return Certificate{
		Filename: Filename(track, name),
		PDF:      pdf,
		Record:   rec,
		Logged:   logged,
	}, nil
}
