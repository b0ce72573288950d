package clinical

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/internal/bedrock"
	"github.com/mawule-gabriel/synthesis/internal/citation"
	"github.com/mawule-gabriel/synthesis/internal/parser"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

const (
	// DiagnosisSource tags differentials produced by retrieval-augmented generation.
	DiagnosisSource = "AI_BEDROCK_RAG"

	MaxImageSize = 5 << 20

	defaultSafetyNote = "Monitor patient closely and escalate if necessary"
)

// ErrValidation is returned for bad input before any external call is made.
var ErrValidation = errors.New("validation failed")

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Generator produces free text from a prompt, optionally with an image.
type Generator interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	InvokeVision(ctx context.Context, image []byte, mediaType, prompt string) (string, error)
}

// Repository is the persistence the clinical service needs.
type Repository interface {
	CreateConsultation(ctx context.Context, c *model.Consultation) error
	GetConsultation(ctx context.Context, id string) (*model.Consultation, error)
	UpdateConsultationStatus(ctx context.Context, id string, status model.ConsultationStatus) error
	// RecordDiagnoses stores diagnoses and marks the consultation in progress
	// in a single transaction.
	RecordDiagnoses(ctx context.Context, consultationID string, diagnoses []model.Diagnosis) error
	ListDiagnoses(ctx context.Context, consultationID string) ([]model.Diagnosis, error)
	SaveImageAnalysis(ctx context.Context, a *model.ImageAnalysis) error
	ListImageAnalyses(ctx context.Context, consultationID string) ([]model.ImageAnalysis, error)
	SaveLabResult(ctx context.Context, r *model.LabResult) error
	ListLabResults(ctx context.Context, consultationID string) ([]model.LabResult, error)
}

type Service struct {
	generator Generator
	retriever citation.Retriever
	repo      Repository
	validate  *validator.Validate
	now       func() time.Time
}

// NewService wires the clinical workflows. retriever may be nil, in which case
// prompts are built without guideline citations.
func NewService(generator Generator, retriever citation.Retriever, repo Repository) *Service {
	return &Service{
		generator: generator,
		retriever: retriever,
		repo:      repo,
		validate:  validator.New(),
		now:       time.Now,
	}
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

type OpenConsultationRequest struct {
	ChatID         int64   `validate:"required"`
	ChiefComplaint string  `validate:"required,max=2000"`
	PatientAge     *int    `validate:"omitempty,gte=0,lte=130"`
	PatientGender  *string `validate:"omitempty,max=50"`
	Allergies      *string `validate:"omitempty,max=1000"`
	Vitals         *string `validate:"omitempty,max=2000"`
	Notes          *string `validate:"omitempty,max=4000"`
}

// OpenConsultation starts a new clinical encounter.
func (s *Service) OpenConsultation(ctx context.Context, req OpenConsultationRequest) (*model.Consultation, error) {
	req.ChiefComplaint = strings.TrimSpace(req.ChiefComplaint)
	if err := s.check(req); err != nil {
		return nil, err
	}

	c := &model.Consultation{
		ID:             uuid.New().String(),
		ChatID:         req.ChatID,
		Status:         model.ConsultationStatusOpen,
		ChiefComplaint: req.ChiefComplaint,
		PatientAge:     req.PatientAge,
		PatientGender:  req.PatientGender,
		Allergies:      req.Allergies,
		Vitals:         req.Vitals,
		Notes:          req.Notes,
		OpenedAt:       s.now(),
	}

	if err := s.repo.CreateConsultation(ctx, c); err != nil {
		return nil, err
	}

	logger.Info("Consultation opened",
		zap.String("consultation_id", c.ID),
		zap.Int64("chat_id", c.ChatID))

	return c, nil
}

// CloseConsultation ends an encounter. Its stored records are kept.
func (s *Service) CloseConsultation(ctx context.Context, consultationID string) error {
	if err := s.checkID(consultationID); err != nil {
		return err
	}

	if err := s.repo.UpdateConsultationStatus(ctx, consultationID, model.ConsultationStatusClosed); err != nil {
		return err
	}

	logger.Info("Consultation closed", zap.String("consultation_id", consultationID))
	return nil
}

// Diagnoses lists the differentials stored for a consultation, most confident first.
func (s *Service) Diagnoses(ctx context.Context, consultationID string) ([]model.Diagnosis, error) {
	if err := s.checkID(consultationID); err != nil {
		return nil, err
	}
	return s.repo.ListDiagnoses(ctx, consultationID)
}

type LabResultRequest struct {
	ConsultationID string `validate:"required,uuid"`
	TestName       string `validate:"required,max=200"`
	NumericValue   decimal.NullDecimal
	Unit           *string `validate:"omitempty,max=50"`
	IsAbnormal     *bool
	ReferenceRange *string `validate:"omitempty,max=100"`
}

// AddLabResult records a measurement on an existing consultation. Stored
// results are part of every later diagnostic prompt for it.
func (s *Service) AddLabResult(ctx context.Context, req LabResultRequest) (*model.LabResult, error) {
	req.TestName = strings.TrimSpace(req.TestName)
	if err := s.check(req); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetConsultation(ctx, req.ConsultationID); err != nil {
		return nil, err
	}

	r := &model.LabResult{
		ID:             uuid.New().String(),
		ConsultationID: req.ConsultationID,
		TestName:       req.TestName,
		NumericValue:   req.NumericValue,
		Unit:           req.Unit,
		IsAbnormal:     req.IsAbnormal,
		ReferenceRange: req.ReferenceRange,
		RecordedAt:     s.now(),
	}

	if err := s.repo.SaveLabResult(ctx, r); err != nil {
		return nil, err
	}

	logger.Info("Lab result added",
		zap.String("consultation_id", r.ConsultationID),
		zap.String("lab_result_id", r.ID),
		zap.String("test", r.TestName))

	return r, nil
}

// LabResults lists the measurements of a consultation, oldest first.
func (s *Service) LabResults(ctx context.Context, consultationID string) ([]model.LabResult, error) {
	if err := s.checkID(consultationID); err != nil {
		return nil, err
	}
	return s.repo.ListLabResults(ctx, consultationID)
}

func (s *Service) checkID(id string) error {
	if err := s.validate.Var(id, "required,uuid"); err != nil {
		return fmt.Errorf("%w: invalid consultation id %q", ErrValidation, id)
	}
	return nil
}

type DiagnoseRequest struct {
	ConsultationID     string   `validate:"required,uuid"`
	AvailableEquipment []string `validate:"max=50,dive,max=200"`
	LocalFormulary     []string `validate:"max=200,dive,max=200"`
	AdditionalNotes    string   `validate:"max=4000"`
}

// Differential is a parsed differential plus the ID of its stored record, when
// it passed the persistence filter.
type Differential struct {
	parser.Differential
	ID string `json:"id,omitempty"`
}

type DiagnosticReport struct {
	ConsultationID   string         `json:"consultationId"`
	Differentials    []Differential `json:"differentials"`
	ImmediateActions []string       `json:"immediateActions"`
	SafetyNotes      string         `json:"safetyNotes"`
	NextQuestions    []string       `json:"nextQuestions"`
	PhysicalExams    []string       `json:"physicalExams"`
	UrgencyLevel     string         `json:"urgencyLevel,omitempty"`
	Citations        []string       `json:"citations"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// Diagnose produces a differential diagnosis for a consultation. Differentials
// above PersistenceThreshold are stored; all are returned. A reply that cannot
// be parsed, or carries a confidence outside [0, 1], fails with
// parser.ErrMalformedResponse and nothing is stored. The stored differentials
// and the status change are written together or not at all.
func (s *Service) Diagnose(ctx context.Context, req DiagnoseRequest) (*DiagnosticReport, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	log := logger.With(zap.String("consultation_id", req.ConsultationID))
	log.Info("Starting diagnostic analysis")

	consultation, err := s.repo.GetConsultation(ctx, req.ConsultationID)
	if err != nil {
		return nil, err
	}

	citations := s.retrieve(ctx, knowledgeQuery(consultation), log)

	prompt := bedrock.BuildDiagnosticPrompt(s.clinicalContext(ctx, consultation, req, log))
	if len(citations) == 0 {
		log.Warn("No guidelines found, proceeding with general medical knowledge")
		prompt += citation.NoGuidelinesNote
	} else {
		prompt += citation.FormatForPrompt(citations)
	}

	raw, err := s.generator.Invoke(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate diagnostic analysis for consultation %s: %w", req.ConsultationID, err)
	}

	result, err := parser.ParseDiagnostic(raw)
	if err != nil {
		metrics.MalformedResponses.WithLabelValues("diagnostic").Inc()
		return nil, fmt.Errorf("failed to parse diagnostic response for consultation %s: %w", req.ConsultationID, err)
	}

	for _, d := range result.Differentials {
		if !confidenceInRange(d.Confidence) {
			metrics.MalformedResponses.WithLabelValues("diagnostic").Inc()
			return nil, fmt.Errorf("%w: differential %q has confidence %s outside [0, 1]",
				parser.ErrMalformedResponse, d.Condition, d.Confidence)
		}
	}

	differentials := make([]Differential, 0, len(result.Differentials))
	var diagnoses []model.Diagnosis
	for _, d := range result.Differentials {
		out := Differential{Differential: d}

		if ShouldPersist(d) {
			out.ID = uuid.New().String()
			diagnoses = append(diagnoses, model.Diagnosis{
				ID:             out.ID,
				ConsultationID: consultation.ID,
				ConditionName:  d.Condition,
				Confidence:     d.Confidence,
				Reasoning:      d.Reasoning,
				Source:         DiagnosisSource,
				CreatedAt:      s.now(),
			})
		}

		differentials = append(differentials, out)
	}

	if err := s.repo.RecordDiagnoses(ctx, consultation.ID, diagnoses); err != nil {
		return nil, err
	}
	metrics.DifferentialsPersisted.Add(float64(len(diagnoses)))

	log.Debug("Saved diagnoses", zap.Int("count", len(diagnoses)))

	safetyNotes := result.SafetyNotes
	if safetyNotes == "" {
		safetyNotes = defaultSafetyNote
	}

	report := &DiagnosticReport{
		ConsultationID:   consultation.ID,
		Differentials:    differentials,
		ImmediateActions: result.ImmediateActions,
		SafetyNotes:      safetyNotes,
		NextQuestions:    result.NextQuestions,
		PhysicalExams:    result.PhysicalExams,
		UrgencyLevel:     result.UrgencyLevel,
		Citations:        citation.CrossReference(raw, citations),
		GeneratedAt:      s.now(),
	}

	log.Info("Diagnostic analysis completed",
		zap.Int("differentials", len(report.Differentials)),
		zap.Int("citations", len(report.Citations)),
		zap.String("urgency", report.UrgencyLevel))

	return report, nil
}

// retrieve degrades to no citations when the knowledge base is unavailable.
func (s *Service) retrieve(ctx context.Context, query string, log *zap.Logger) []citation.Citation {
	if s.retriever == nil {
		return nil
	}

	citations, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		log.Warn("Guideline retrieval failed", zap.Error(err))
		return nil
	}

	return citations
}

func (s *Service) clinicalContext(ctx context.Context, c *model.Consultation, req DiagnoseRequest, log *zap.Logger) bedrock.ClinicalContext {
	labResults := s.labFindings(ctx, c.ID, log)
	if c.Notes != nil && *c.Notes != "" {
		if labResults != "" {
			labResults += "\n"
		}
		labResults += *c.Notes
	}
	if labResults == "" {
		labResults = "No lab results available"
	}
	if req.AdditionalNotes != "" {
		labResults += "\nAdditional notes: " + req.AdditionalNotes
	}

	vitals := ""
	if c.Vitals != nil {
		vitals = *c.Vitals
	}

	return bedrock.ClinicalContext{
		PatientSummary:     patientSummary(c),
		ChiefComplaint:     c.ChiefComplaint,
		Vitals:             vitals,
		LabResults:         labResults,
		ImagingFindings:    s.imagingFindings(ctx, c.ID, log),
		AvailableEquipment: req.AvailableEquipment,
		LocalFormulary:     req.LocalFormulary,
	}
}

func (s *Service) imagingFindings(ctx context.Context, consultationID string, log *zap.Logger) string {
	analyses, err := s.repo.ListImageAnalyses(ctx, consultationID)
	if err != nil {
		log.Warn("Failed to load previous image analyses", zap.Error(err))
		return ""
	}

	var b strings.Builder
	for i, a := range analyses {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s", a.Description)
		if len(a.Findings) > 0 {
			fmt.Fprintf(&b, " (findings: %s)", strings.Join(a.Findings, "; "))
		}
	}
	return b.String()
}

func (s *Service) labFindings(ctx context.Context, consultationID string, log *zap.Logger) string {
	results, err := s.repo.ListLabResults(ctx, consultationID)
	if err != nil {
		log.Warn("Failed to load lab results", zap.Error(err))
		return ""
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- "+FormatLabResult(r))
	}
	return strings.Join(lines, "\n")
}

// FormatLabResult renders a measurement as e.g.
// "Haemoglobin: 9.2 g/dL (ref 12-16) ABNORMAL".
func FormatLabResult(r model.LabResult) string {
	var b strings.Builder
	b.WriteString(r.TestName)
	if r.NumericValue.Valid {
		b.WriteString(": ")
		b.WriteString(r.NumericValue.Decimal.String())
		if r.Unit != nil && *r.Unit != "" {
			b.WriteString(" ")
			b.WriteString(*r.Unit)
		}
	}
	if r.ReferenceRange != nil && *r.ReferenceRange != "" {
		fmt.Fprintf(&b, " (ref %s)", *r.ReferenceRange)
	}
	if r.IsAbnormal != nil && *r.IsAbnormal {
		b.WriteString(" ABNORMAL")
	}
	return b.String()
}

func patientSummary(c *model.Consultation) string {
	age := "Not specified"
	if c.PatientAge != nil {
		age = strconv.Itoa(*c.PatientAge) + " years"
	}
	gender := "Not specified"
	if c.PatientGender != nil && *c.PatientGender != "" {
		gender = *c.PatientGender
	}
	allergies := "None reported"
	if c.Allergies != nil && *c.Allergies != "" {
		allergies = *c.Allergies
	}
	return fmt.Sprintf("Age: %s, Gender: %s, Allergies: %s", age, gender, allergies)
}

// knowledgeQuery phrases the consultation as a guideline search, e.g.
// "productive cough in 45 year old female treatment guidelines".
func knowledgeQuery(c *model.Consultation) string {
	var b strings.Builder
	b.WriteString(c.ChiefComplaint)
	b.WriteString(" in ")
	if c.PatientAge != nil {
		fmt.Fprintf(&b, "%d year old ", *c.PatientAge)
	}
	if c.PatientGender != nil && *c.PatientGender != "" {
		b.WriteString(strings.ToLower(*c.PatientGender))
	} else {
		b.WriteString("patient")
	}
	b.WriteString(" treatment guidelines")
	return b.String()
}

type TreatmentRequest struct {
	Condition            string   `validate:"required,max=500"`
	WeightKg             *float64 `validate:"omitempty,gt=0,lte=500"`
	AgeYears             *int     `validate:"omitempty,gte=0,lte=130"`
	RenalFunctionNormal  *bool
	AvailableMedications []string `validate:"max=200,dive,max=200"`
}

// PlanTreatment produces a dosed treatment plan for a confirmed condition.
func (s *Service) PlanTreatment(ctx context.Context, req TreatmentRequest) (*parser.TreatmentPlan, error) {
	req.Condition = strings.TrimSpace(req.Condition)
	if err := s.check(req); err != nil {
		return nil, err
	}

	prompt := bedrock.BuildTreatmentPrompt(bedrock.TreatmentParams{
		Condition:            req.Condition,
		WeightKg:             req.WeightKg,
		AgeYears:             req.AgeYears,
		RenalFunctionNormal:  req.RenalFunctionNormal,
		AvailableMedications: req.AvailableMedications,
	})

	raw, err := s.generator.Invoke(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate treatment plan for %q: %w", req.Condition, err)
	}

	plan, err := parser.ParseTreatment(raw)
	if err != nil {
		metrics.MalformedResponses.WithLabelValues("treatment").Inc()
		return nil, fmt.Errorf("failed to parse treatment response for %q: %w", req.Condition, err)
	}

	logger.Info("Treatment plan generated",
		zap.String("condition", req.Condition),
		zap.Int("treatments", len(plan.Treatments)))

	return plan, nil
}

type ImageRequest struct {
	Image           []byte
	MediaType       string
	ClinicalContext string `validate:"max=4000"`
	// ConsultationID links the stored analysis to an encounter. Analyses
	// without one are returned but not stored.
	ConsultationID string `validate:"omitempty,uuid"`
}

type ImageReport struct {
	ID          string    `json:"id,omitempty"`
	Description string    `json:"description"`
	Findings    []string  `json:"findings"`
	AnalyzedAt  time.Time `json:"analyzedAt"`
}

// AnalyzeImage reads a clinical image. Only JPEG and PNG up to MaxImageSize
// are accepted. The reply is parsed best-effort and never fails on shape.
func (s *Service) AnalyzeImage(ctx context.Context, req ImageRequest) (*ImageReport, error) {
	mediaType := strings.ToLower(strings.TrimSpace(req.MediaType))
	if !supportedImageTypes[mediaType] {
		return nil, fmt.Errorf("%w: invalid file type %q. Only JPEG and PNG images are supported", ErrValidation, req.MediaType)
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrValidation)
	}
	if len(req.Image) > MaxImageSize {
		return nil, fmt.Errorf("%w: image file is too large. Maximum size is 5MB", ErrValidation)
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	logger.Info("Starting image analysis", zap.String("media_type", mediaType), zap.Int("size", len(req.Image)))

	raw, err := s.generator.InvokeVision(ctx, req.Image, mediaType, bedrock.BuildImagePrompt(req.ClinicalContext))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze medical image: %w", err)
	}

	analysis := parser.ParseImageAnalysis(raw)
	report := &ImageReport{
		Description: analysis.Description,
		Findings:    analysis.Findings,
		AnalyzedAt:  s.now(),
	}

	if req.ConsultationID != "" {
		consultationID := req.ConsultationID
		record := &model.ImageAnalysis{
			ID:             uuid.New().String(),
			ConsultationID: &consultationID,
			MediaType:      mediaType,
			Description:    report.Description,
			Findings:       report.Findings,
			AnalyzedAt:     report.AnalyzedAt,
		}
		if err := s.repo.SaveImageAnalysis(ctx, record); err != nil {
			logger.Warn("Failed to store image analysis",
				zap.String("consultation_id", consultationID),
				zap.Error(err))
		} else {
			report.ID = record.ID
		}
	}

	logger.Info("Image analysis completed", zap.Int("findings", len(report.Findings)))

	return report, nil
}
