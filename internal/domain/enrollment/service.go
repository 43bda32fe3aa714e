package enrollment

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/clock"
	"github.com/caretrack/caretrack/internal/platform/events"
	"github.com/caretrack/caretrack/internal/platform/scheduler"
)

// Published event names.
const (
	EventMilestoneAlert     = "caretrack.milestone.alert"
	EventDefaultmentCapture = "caretrack.milestone.defaultment.capture"
	EventUnenrolled         = "caretrack.subject.unenrolled"
)

// Job payload keys and alert kinds.
const (
	payloadEnrollmentID = "enrollment_id"
	payloadSubjectID    = "subject_id"
	payloadScheduleName = "schedule_name"
	payloadMilestone    = "milestone"
	payloadWindow       = "window"
	payloadKind         = "kind"
	payloadJobID        = "job_id"

	kindReminder    = "reminder"
	kindDefaultment = "defaultment"
)

// Config holds the state machine's policy knobs.
type Config struct {
	// ReactivateOnLateFulfillment lets a DEFAULTED enrollment return to
	// ACTIVE when a fulfillment arrives after defaulting. Off by default:
	// defaulting is terminal unless the deployment opts in.
	ReactivateOnLateFulfillment bool
}

// Service is the enrollment state machine. All transitions for one
// (subject, schedule) pair are serialized through a striped lock;
// transitions on different pairs proceed in parallel.
type Service struct {
	repo      Repository
	schedules *schedule.Registry
	jobs      scheduler.JobScheduler
	events    events.Publisher
	clock     clock.Clock
	log       zerolog.Logger
	cfg       Config

	locks [64]sync.Mutex
}

// NewService wires the state machine to its collaborator capabilities.
func NewService(repo Repository, schedules *schedule.Registry, jobs scheduler.JobScheduler,
	pub events.Publisher, clk clock.Clock, log zerolog.Logger, cfg Config) *Service {
	return &Service{
		repo:      repo,
		schedules: schedules,
		jobs:      jobs,
		events:    pub,
		clock:     clk,
		log:       log,
		cfg:       cfg,
	}
}

func (s *Service) lock(subjectID, scheduleName string) func() {
	h := fnv.New32a()
	h.Write([]byte(lockKey(subjectID, scheduleName)))
	mu := &s.locks[h.Sum32()%uint32(len(s.locks))]
	mu.Lock()
	return mu.Unlock
}

// EnrollRequest carries the parameters of a new enrollment. Zero
// enrollment/reference instants default to "now" and to the enrollment
// instant respectively.
type EnrollRequest struct {
	SubjectID          string
	ScheduleName       string
	PreferredAlertTime *schedule.TimeOfDay
	ReferenceDate      time.Time
	ReferenceTime      schedule.TimeOfDay
	EnrollmentDate     time.Time
	EnrollmentTime     schedule.TimeOfDay
	StartingMilestone  string
	Metadata           map[string]string
}

// Enroll creates an ACTIVE enrollment and registers its first milestone's
// alert jobs. Fails with ErrDuplicateEnrollment when the pair already has
// an ACTIVE enrollment.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*Enrollment, error) {
	if req.SubjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	def, err := s.schedules.Get(req.ScheduleName)
	if err != nil {
		return nil, err
	}

	starting := req.StartingMilestone
	if starting == "" {
		starting = def.FirstMilestone().Name
	}
	if _, _, ok := def.Milestone(starting); !ok {
		return nil, fmt.Errorf("%w: %q in schedule %q", ErrUnknownMilestone, starting, def.Name)
	}

	unlock := s.lock(req.SubjectID, req.ScheduleName)
	defer unlock()

	existing, err := s.repo.GetActive(ctx, req.SubjectID, req.ScheduleName)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: subject %q, schedule %q", ErrDuplicateEnrollment, req.SubjectID, req.ScheduleName)
	}

	now := s.clock.Now()
	enrolledDate, enrolledTime := req.EnrollmentDate, req.EnrollmentTime
	if enrolledDate.IsZero() {
		enrolledDate = now
		enrolledTime = schedule.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	}
	refDate, refTime := req.ReferenceDate, req.ReferenceTime
	if refDate.IsZero() {
		refDate, refTime = enrolledDate, enrolledTime
	}

	e := &Enrollment{
		SubjectID:          req.SubjectID,
		ScheduleName:       def.Name,
		CurrentMilestone:   starting,
		PreferredAlertTime: req.PreferredAlertTime,
		ReferenceDate:      refDate,
		ReferenceTime:      refTime,
		EnrolledOnDate:     enrolledDate,
		EnrolledOnTime:     enrolledTime,
		Status:             StatusActive,
		Metadata:           req.Metadata,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	s.log.Info().Str("subject_id", e.SubjectID).Str("schedule", e.ScheduleName).
		Str("milestone", e.CurrentMilestone).Str("enrollment_id", e.ID.String()).
		Msg("subject enrolled")

	if err := s.scheduleMilestoneJobs(ctx, e, def); err != nil {
		return nil, err
	}
	return e, nil
}

// FulfillCurrentMilestone records that the subject completed the current
// milestone at the given instant: cancels the prior milestone's jobs,
// advances to the next milestone (or COMPLETED after the last), resets the
// reference instant, and re-plans alerts from scratch.
func (s *Service) FulfillCurrentMilestone(ctx context.Context, subjectID, scheduleName string,
	fulfillmentDate time.Time, fulfillmentTime schedule.TimeOfDay) (*Enrollment, error) {

	def, err := s.schedules.Get(scheduleName)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(subjectID, scheduleName)
	defer unlock()

	e, err := s.repo.GetActive(ctx, subjectID, scheduleName)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil && s.cfg.ReactivateOnLateFulfillment {
		latest, err := s.repo.GetLatest(ctx, subjectID, scheduleName)
		if err != nil {
			return nil, fmt.Errorf("load enrollment: %w", err)
		}
		if latest != nil && latest.Status == StatusDefaulted {
			latest.Status = StatusActive
			e = latest
			s.log.Info().Str("enrollment_id", e.ID.String()).Msg("defaulted enrollment re-activated by late fulfillment")
		}
	}
	if e == nil {
		return nil, fmt.Errorf("%w: subject %q, schedule %q", ErrUnknownEnrollment, subjectID, scheduleName)
	}

	current, _, ok := def.Milestone(e.CurrentMilestone)
	if !ok {
		return nil, fmt.Errorf("%w: %q in schedule %q", ErrUnknownMilestone, e.CurrentMilestone, def.Name)
	}

	// The prior milestone's jobs must be gone before the new plan exists,
	// or stale reminders keep firing after the advance.
	if err := s.cancelMilestoneJobs(ctx, e, def, current); err != nil {
		return nil, err
	}

	e.ReferenceDate = fulfillmentDate
	e.ReferenceTime = fulfillmentTime

	next, hasNext := def.NextMilestone(e.CurrentMilestone)
	if !hasNext {
		e.Status = StatusCompleted
		if err := s.repo.Update(ctx, e); err != nil {
			return nil, fmt.Errorf("update enrollment: %w", err)
		}
		s.log.Info().Str("enrollment_id", e.ID.String()).Str("schedule", e.ScheduleName).
			Msg("schedule completed")
		return e, nil
	}

	e.CurrentMilestone = next.Name
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update enrollment: %w", err)
	}
	s.log.Info().Str("enrollment_id", e.ID.String()).Str("milestone", e.CurrentMilestone).
		Msg("milestone fulfilled")

	if err := s.scheduleMilestoneJobs(ctx, e, def); err != nil {
		return nil, err
	}
	return e, nil
}

// Unenroll cancels all outstanding jobs for the pair's ACTIVE enrollment
// and marks it UNENROLLED. Job cancellation completes before Unenroll
// returns, so no further fires are observed afterwards. Idempotent.
func (s *Service) Unenroll(ctx context.Context, subjectID, scheduleName string) error {
	def, err := s.schedules.Get(scheduleName)
	if err != nil {
		return err
	}

	unlock := s.lock(subjectID, scheduleName)
	defer unlock()

	e, err := s.repo.GetActive(ctx, subjectID, scheduleName)
	if err != nil {
		return fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil {
		return nil
	}

	if current, _, ok := def.Milestone(e.CurrentMilestone); ok {
		if err := s.cancelMilestoneJobs(ctx, e, def, current); err != nil {
			return err
		}
	}

	e.Status = StatusUnenrolled
	if err := s.repo.Update(ctx, e); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}

	s.log.Info().Str("enrollment_id", e.ID.String()).Str("schedule", e.ScheduleName).Msg("subject unenrolled")
	return s.events.Publish(ctx, EventUnenrolled, map[string]string{
		payloadEnrollmentID: e.ID.String(),
		payloadSubjectID:    e.SubjectID,
		payloadScheduleName: e.ScheduleName,
	})
}

// GetActive returns the pair's ACTIVE enrollment, or ErrUnknownEnrollment.
func (s *Service) GetActive(ctx context.Context, subjectID, scheduleName string) (*Enrollment, error) {
	e, err := s.repo.GetActive(ctx, subjectID, scheduleName)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: subject %q, schedule %q", ErrUnknownEnrollment, subjectID, scheduleName)
	}
	return e, nil
}

// ListBySubject lists a subject's enrollments across schedules and
// statuses.
func (s *Service) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Enrollment, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}

// RestoreJobs re-registers alert jobs for every ACTIVE enrollment. The
// job scheduler holds its timers in memory, so a restarted process replays
// planning for the whole active population before serving traffic.
// Enrollments whose windows fully elapsed while the process was down
// default immediately.
func (s *Service) RestoreJobs(ctx context.Context) error {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active enrollments: %w", err)
	}
	restored := 0
	for _, e := range active {
		def, err := s.schedules.Get(e.ScheduleName)
		if err != nil {
			s.log.Error().Err(err).Str("enrollment_id", e.ID.String()).
				Str("schedule", e.ScheduleName).Msg("active enrollment references unknown schedule")
			continue
		}
		unlock := s.lock(e.SubjectID, e.ScheduleName)
		err = s.scheduleMilestoneJobs(ctx, e, def)
		unlock()
		if err != nil {
			return err
		}
		restored++
	}
	s.log.Info().Int("count", restored).Msg("alert jobs restored")
	return nil
}

// HandleFiredJob is the scheduler callback. It re-reads enrollment state
// under the pair's lock before acting, so a fulfillment that won the race
// makes this fire a no-op.
func (s *Service) HandleFiredJob(key string, payload map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := uuid.Parse(payload[payloadEnrollmentID])
	if err != nil {
		s.log.Error().Err(err).Str("job_key", key).Msg("fired job carries no enrollment id")
		return
	}

	unlock := s.lock(payload[payloadSubjectID], payload[payloadScheduleName])
	defer unlock()

	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("job_key", key).Msg("load enrollment for fired job")
		return
	}
	if e == nil || e.Status != StatusActive || e.CurrentMilestone != payload[payloadMilestone] {
		// Stale fire: the enrollment advanced, defaulted or closed since
		// this job was registered.
		return
	}

	if payload[payloadKind] == kindDefaultment {
		if err := s.markDefaulted(ctx, e, key); err != nil {
			s.log.Error().Err(err).Str("enrollment_id", e.ID.String()).Msg("defaultment transition failed")
		}
		return
	}

	s.log.Debug().Str("enrollment_id", e.ID.String()).Str("milestone", e.CurrentMilestone).
		Str("window", payload[payloadWindow]).Msg("reminder alert fired")
	fired := map[string]string{
		payloadEnrollmentID: e.ID.String(),
		payloadSubjectID:    e.SubjectID,
		payloadScheduleName: e.ScheduleName,
		payloadMilestone:    e.CurrentMilestone,
		payloadWindow:       payload[payloadWindow],
		payloadJobID:        key,
	}
	if err := s.events.Publish(ctx, EventMilestoneAlert, fired); err != nil {
		s.log.Error().Err(err).Str("job_key", key).Msg("publish alert event")
	}
}

// scheduleMilestoneJobs re-plans the full alert schedule of the current
// milestone from the enrollment's reference instant. Called on every state
// transition; planning is from scratch, never an incremental patch.
func (s *Service) scheduleMilestoneJobs(ctx context.Context, e *Enrollment, def *schedule.Definition) error {
	m, _, ok := def.Milestone(e.CurrentMilestone)
	if !ok {
		return fmt.Errorf("%w: %q in schedule %q", ErrUnknownMilestone, e.CurrentMilestone, def.Name)
	}
	w, err := schedule.ComputeWindows(m, e.ReferenceInstant())
	if err != nil {
		return err
	}
	now := s.clock.Now()

	for i, a := range m.Alerts {
		times := schedule.PlanAlertTimes(a, w, e.PreferredAlertTime, now)
		if len(times) == 0 {
			continue
		}
		key := AlertJobKey(e.ScheduleName, e.ID, def.AlertIndex(m.Name, i))
		job := scheduler.RepeatingJob{
			Key:       key,
			FireTimes: times,
			Payload: map[string]string{
				payloadEnrollmentID: e.ID.String(),
				payloadSubjectID:    e.SubjectID,
				payloadScheduleName: e.ScheduleName,
				payloadMilestone:    m.Name,
				payloadWindow:       string(a.Window),
				payloadKind:         kindReminder,
			},
		}
		if err := s.jobs.ScheduleRepeatingJob(ctx, job); err != nil {
			// An unregistered alert is a silent missed reminder; surface it.
			s.log.Error().Err(err).Str("job_key", key).Msg("alert job registration failed")
			return fmt.Errorf("register alert job %s: %w", key, err)
		}
	}

	defaultKey := DefaultmentJobKey(e.ScheduleName, e.ID)
	if !w.Max.After(now) {
		// The whole milestone window elapsed before planning: the subject
		// is immediately in default.
		return s.markDefaulted(ctx, e, defaultKey)
	}
	job := scheduler.RepeatingJob{
		Key:       defaultKey,
		FireTimes: []time.Time{w.Max},
		Payload: map[string]string{
			payloadEnrollmentID: e.ID.String(),
			payloadSubjectID:    e.SubjectID,
			payloadScheduleName: e.ScheduleName,
			payloadMilestone:    m.Name,
			payloadWindow:       string(schedule.WindowMax),
			payloadKind:         kindDefaultment,
		},
	}
	if err := s.jobs.ScheduleRepeatingJob(ctx, job); err != nil {
		s.log.Error().Err(err).Str("job_key", defaultKey).Msg("defaultment job registration failed")
		return fmt.Errorf("register defaultment job %s: %w", defaultKey, err)
	}
	return nil
}

// cancelMilestoneJobs cancels exactly the named milestone's job keys plus
// the enrollment's defaultment check.
func (s *Service) cancelMilestoneJobs(ctx context.Context, e *Enrollment, def *schedule.Definition, m schedule.MilestoneDefinition) error {
	var first error
	for i := range m.Alerts {
		key := AlertJobKey(e.ScheduleName, e.ID, def.AlertIndex(m.Name, i))
		if err := s.jobs.CancelJob(ctx, key); err != nil {
			s.log.Error().Err(err).Str("job_key", key).Msg("cancel alert job")
			if first == nil {
				first = fmt.Errorf("cancel job %s: %w", key, err)
			}
		}
	}
	if err := s.jobs.CancelJob(ctx, DefaultmentJobKey(e.ScheduleName, e.ID)); err != nil {
		s.log.Error().Err(err).Msg("cancel defaultment job")
		if first == nil {
			first = fmt.Errorf("cancel defaultment job: %w", err)
		}
	}
	return first
}

// markDefaulted transitions the enrollment to DEFAULTED and publishes the
// capture event. Firing again while already defaulted is a no-op upstream
// (HandleFiredJob only routes ACTIVE enrollments here).
func (s *Service) markDefaulted(ctx context.Context, e *Enrollment, jobID string) error {
	e.Status = StatusDefaulted
	if err := s.repo.Update(ctx, e); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	s.log.Warn().Str("enrollment_id", e.ID.String()).Str("subject_id", e.SubjectID).
		Str("schedule", e.ScheduleName).Str("milestone", e.CurrentMilestone).
		Msg("enrollment defaulted")
	return s.events.Publish(ctx, EventDefaultmentCapture, map[string]string{
		payloadEnrollmentID: e.ID.String(),
		payloadSubjectID:    e.SubjectID,
		payloadScheduleName: e.ScheduleName,
		payloadJobID:        jobID,
	})
}
