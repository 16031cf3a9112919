package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// MethodService manages the payment methods a store offers.
type MethodService struct {
	methods    repository.MethodRepository
	processors *processor.Registry
	logger     *slog.Logger
}

// NewMethodService creates a new payment method service.
func NewMethodService(methods repository.MethodRepository, processors *processor.Registry, logger *slog.Logger) *MethodService {
	return &MethodService{
		methods:    methods,
		processors: processors,
		logger:     logger,
	}
}

// CreateMethodInput describes a new payment method. ProcessorName defaults
// to the processor named after the method type.
type CreateMethodInput struct {
	StoreID       string
	Type          string
	ProcessorName string
	Enabled       *bool
	Currencies    []string
	MinAmount     int64
	MaxAmount     int64
}

// UpdateMethodInput changes the fields that are set.
type UpdateMethodInput struct {
	ProcessorName *string
	Enabled       *bool
	Currencies    []string
	MinAmount     *int64
	MaxAmount     *int64
}

// CreateMethod validates and stores a new payment method.
func (s *MethodService) CreateMethod(ctx context.Context, in CreateMethodInput) (*domain.PaymentMethod, error) {
	if in.StoreID == "" {
		return nil, apperrors.InvalidInput("store_id is required")
	}
	if !domain.IsValidMethodType(in.Type) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown payment method type %q", in.Type))
	}
	if in.ProcessorName == "" {
		in.ProcessorName = in.Type
	}

	now := time.Now().UTC()
	m := &domain.PaymentMethod{
		ID:            uuid.New().String(),
		StoreID:       in.StoreID,
		Type:          in.Type,
		ProcessorName: in.ProcessorName,
		Enabled:       in.Enabled == nil || *in.Enabled,
		Currencies:    in.Currencies,
		MinAmount:     in.MinAmount,
		MaxAmount:     in.MaxAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.validate(m); err != nil {
		return nil, err
	}

	if err := s.methods.CreateMethod(ctx, m); err != nil {
		return nil, fmt.Errorf("create payment method: %w", err)
	}
	s.logger.InfoContext(ctx, "payment method created",
		slog.String("method_id", m.ID),
		slog.String("store_id", m.StoreID),
		slog.String("processor", m.ProcessorName),
	)
	return m, nil
}

// UpdateMethod applies in to an existing payment method.
func (s *MethodService) UpdateMethod(ctx context.Context, id string, in UpdateMethodInput) (*domain.PaymentMethod, error) {
	m, err := s.methods.GetMethod(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	if in.ProcessorName != nil {
		m.ProcessorName = *in.ProcessorName
	}
	if in.Enabled != nil {
		m.Enabled = *in.Enabled
	}
	if in.Currencies != nil {
		m.Currencies = in.Currencies
	}
	if in.MinAmount != nil {
		m.MinAmount = *in.MinAmount
	}
	if in.MaxAmount != nil {
		m.MaxAmount = *in.MaxAmount
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.validate(m); err != nil {
		return nil, err
	}

	if err := s.methods.UpdateMethod(ctx, m); err != nil {
		return nil, fmt.Errorf("update payment method: %w", err)
	}
	s.logger.InfoContext(ctx, "payment method updated",
		slog.String("method_id", m.ID),
		slog.Bool("enabled", m.Enabled),
	)
	return m, nil
}

// GetMethod returns one payment method.
func (s *MethodService) GetMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	m, err := s.methods.GetMethod(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	return m, nil
}

// ListStoreMethods returns every payment method of a store.
func (s *MethodService) ListStoreMethods(ctx context.Context, storeID string) ([]domain.PaymentMethod, error) {
	if storeID == "" {
		return nil, apperrors.InvalidInput("store_id is required")
	}
	methods, err := s.methods.ListStoreMethods(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return methods, nil
}

// validate normalises currencies in place.
func (s *MethodService) validate(m *domain.PaymentMethod) error {
	if _, ok := s.processors.Get(m.ProcessorName); !ok {
		return apperrors.InvalidInput(fmt.Sprintf("processor %q is not available", m.ProcessorName))
	}
	if len(m.Currencies) == 0 {
		return apperrors.InvalidInput("at least one currency is required")
	}
	currencies := make([]string, 0, len(m.Currencies))
	for _, c := range m.Currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if !isCurrencyCode(c) {
			return apperrors.InvalidInput(fmt.Sprintf("invalid currency %q", c))
		}
		currencies = append(currencies, c)
	}
	m.Currencies = currencies
	if m.MinAmount < 0 || m.MaxAmount < 0 {
		return apperrors.InvalidInput("amount limits cannot be negative")
	}
	if m.MaxAmount > 0 && m.MaxAmount < m.MinAmount {
		return apperrors.InvalidInput("max_amount must not be below min_amount")
	}
	return nil
}
