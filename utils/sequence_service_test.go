package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolmail/models"
)

func newTestSequenceService(t *testing.T) (*SequenceService, *ConsoleMailer, *models.School) {
	t.Helper()
	db := testDB(t)
	mailer := &ConsoleMailer{}
	email := NewEmailService(db, quietLogger(), mailer)
	service := NewSequenceService(db, quietLogger(), email)
	school := createSchool(t, db)
	return service, mailer, school
}

func createSequence(t *testing.T, service *SequenceService, school *models.School, trigger string, steps ...models.EmailSequenceStep) *models.EmailSequence {
	t.Helper()
	seq := &models.EmailSequence{
		SchoolID:     school.ID,
		Name:         "Teacher Onboarding",
		TriggerEvent: trigger,
		IsActive:     true,
	}
	require.NoError(t, service.DB.Create(seq).Error)
	for i := range steps {
		steps[i].SequenceID = seq.ID
		require.NoError(t, service.DB.Create(&steps[i]).Error)
	}
	return seq
}

func TestTriggerSequenceSchedulesFutureDatedSteps(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, SendCondition: models.ConditionAlways, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 48, SendCondition: models.ConditionAlways, IsActive: true},
	)

	before := time.Now()
	result, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TriggeredSequences)
	require.Len(t, result.Sequences, 1)
	assert.Equal(t, 2, result.Sequences[0].ScheduledSteps)

	var comms []models.EmailCommunication
	require.NoError(t, service.DB.Where("sequence_id = ?", seq.ID).Order("queued_at ASC").Find(&comms).Error)
	require.Len(t, comms, 2)
	for _, comm := range comms {
		assert.Equal(t, models.StatusQueued, comm.Status)
		assert.Equal(t, models.CommunicationSequence, comm.CommunicationType)
		assert.Equal(t, "ada@teachers.test", comm.RecipientEmail)
		assert.NotEmpty(t, comm.TrackingToken)
	}
	// Second step is due two days after the trigger, not now.
	assert.True(t, comms[1].QueuedAt.After(before.Add(47*time.Hour)))
}

func TestTriggerSequenceSkipsInactiveStepsAndSequences(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 24, IsActive: false},
	)
	dormant := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
	)
	require.NoError(t, service.DB.Model(dormant).Update("is_active", false).Error)

	result, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TriggeredSequences)
	assert.Equal(t, 1, result.Sequences[0].ScheduledSteps)
}

func TestTriggerSequenceRequiresRecipient(t *testing.T) {
	service, _, school := newTestSequenceService(t)

	_, err := service.TriggerSequence(school, models.TriggerTeacherJoined, map[string]interface{}{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingRecipient)

	_, err = service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "not-an-address"}, nil, nil)
	assert.Error(t, err)
}

func TestTriggerSequencePreventsDuplicateEntry(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 24, IsActive: true},
	)

	ctx := map[string]interface{}{"recipient_email": "ada@teachers.test"}
	first, err := service.TriggerSequence(school, models.TriggerTeacherJoined, ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequences[0].ScheduledSteps)

	second, err := service.TriggerSequence(school, models.TriggerTeacherJoined, ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sequences[0].ScheduledSteps)

	var count int64
	service.DB.Model(&models.EmailCommunication{}).Where("sequence_id = ?", seq.ID).Count(&count)
	assert.EqualValues(t, 1, count)

	// A different recipient still enters the sequence.
	third, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "grace@teachers.test"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Sequences[0].ScheduledSteps)
}

func TestTriggerSequenceHonorsMaxEmails(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 24, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 3, DelayHours: 48, IsActive: true},
	)
	require.NoError(t, service.DB.Model(seq).Update("max_emails", 2).Error)

	result, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sequences[0].ScheduledSteps)
}

func TestProcessDueSequenceEmailsSendsOnlyDueRows(t *testing.T) {
	service, mailer, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 72, IsActive: true},
	)

	_, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)

	result := service.ProcessDueSequenceEmails()
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProcessedEmails)
	assert.Equal(t, 1, result.SuccessfulEmails)
	assert.Zero(t, result.FailedEmails)
	require.Len(t, mailer.Sent, 1)

	var comms []models.EmailCommunication
	require.NoError(t, service.DB.Where("sequence_id = ?", seq.ID).Order("queued_at ASC").Find(&comms).Error)
	assert.Equal(t, models.StatusSent, comms[0].Status)
	assert.Equal(t, models.StatusQueued, comms[1].Status)
}

func TestClaimIsConditionalOnQueuedStatus(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	comm := &models.EmailCommunication{
		SchoolID:          school.ID,
		RecipientEmail:    "ada@teachers.test",
		TemplateID:        &tmpl.ID,
		TemplateType:      models.TemplateWelcome,
		CommunicationType: models.CommunicationSequence,
		Status:            models.StatusQueued,
		QueuedAt:          time.Now().Add(-time.Minute),
		MaxRetries:        3,
		TrackingToken:     "claim-1",
	}
	require.NoError(t, service.DB.Create(comm).Error)

	claimed, err := service.claim(comm)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.StatusSending, comm.Status)

	// A second claim on the same row must lose.
	stale := &models.EmailCommunication{}
	stale.ID = comm.ID
	again, err := service.claim(stale)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestProcessSkipsWhenInvitationConditionNotMet(t *testing.T) {
	service, mailer, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateReminder)

	seq := createSequence(t, service, school, models.TriggerInvitationSent,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0,
			SendCondition: models.ConditionIfNotAccepted, IsActive: true},
	)

	// No invitation linked to the trigger: the gate cannot be evaluated
	// in the recipient's favor, so the step is skipped at send time.
	_, err := service.TriggerSequence(school, models.TriggerInvitationSent,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)

	result := service.ProcessDueSequenceEmails()
	assert.Equal(t, 1, result.SkippedEmails)
	assert.Zero(t, result.SuccessfulEmails)
	assert.Empty(t, mailer.Sent)

	var comm models.EmailCommunication
	require.NoError(t, service.DB.Where("sequence_id = ?", seq.ID).First(&comm).Error)
	assert.Equal(t, models.StatusSkipped, comm.Status)
	assert.Equal(t, "no invitation linked", comm.FailureReason)
}

func TestProcessSkipsAcceptedInvitations(t *testing.T) {
	service, mailer, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateReminder)

	admin := &models.User{SchoolID: &school.ID, Name: "Head Admin", Email: "admin@riverside.test", Role: models.RoleAdmin, IsActive: true}
	require.NoError(t, service.DB.Create(admin).Error)

	invitation := &models.TeacherInvitation{
		SchoolID:    school.ID,
		Email:       "ada@teachers.test",
		Token:       "inv-accepted",
		InvitedByID: admin.ID,
		IsAccepted:  true,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, service.DB.Create(invitation).Error)

	createSequence(t, service, school, models.TriggerInvitationSent,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0,
			SendCondition: models.ConditionIfNotAccepted, IsActive: true},
	)

	_, err := service.TriggerSequence(school, models.TriggerInvitationSent,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, invitation, nil)
	require.NoError(t, err)

	result := service.ProcessDueSequenceEmails()
	assert.Equal(t, 1, result.SkippedEmails)
	assert.Empty(t, mailer.Sent)
}

func TestProcessSkipsWhenRecipientResponded(t *testing.T) {
	service, mailer, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	opened := time.Now().Add(-time.Hour)
	responded := &models.EmailCommunication{
		SchoolID:       school.ID,
		RecipientEmail: "ada@teachers.test",
		TemplateID:     &tmpl.ID,
		TemplateType:   models.TemplateWelcome,
		Status:         models.StatusOpened,
		QueuedAt:       opened,
		OpenedAt:       &opened,
		MaxRetries:     3,
		TrackingToken:  "opened-1",
	}
	require.NoError(t, service.DB.Create(responded).Error)

	createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0,
			SendCondition: models.ConditionIfNoResponse, IsActive: true},
	)

	_, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)

	result := service.ProcessDueSequenceEmails()
	assert.Equal(t, 1, result.SkippedEmails)
	assert.Empty(t, mailer.Sent)
}

func TestCancelSequenceForRecipientSkipsOnlyQueuedRows(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 48, IsActive: true},
	)

	_, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
		map[string]interface{}{"recipient_email": "ada@teachers.test"}, nil, nil)
	require.NoError(t, err)

	// First step already went out before the cancel.
	service.ProcessDueSequenceEmails()

	cancelled, err := service.CancelSequenceForRecipient(seq.ID, "ada@teachers.test", "teacher opted out")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cancelled)

	var comms []models.EmailCommunication
	require.NoError(t, service.DB.Where("sequence_id = ?", seq.ID).Order("queued_at ASC").Find(&comms).Error)
	assert.Equal(t, models.StatusSent, comms[0].Status)
	assert.Equal(t, models.StatusSkipped, comms[1].Status)
	assert.Equal(t, "teacher opted out", comms[1].FailureReason)
}

func TestGetSequenceStatusAggregatesCounts(t *testing.T) {
	service, _, school := newTestSequenceService(t)
	tmpl := createTemplate(t, service.DB, &school.ID, models.TemplateWelcome)

	seq := createSequence(t, service, school, models.TriggerTeacherJoined,
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 1, DelayHours: 0, IsActive: true},
		models.EmailSequenceStep{TemplateID: tmpl.ID, StepNumber: 2, DelayHours: 48, IsActive: true},
	)

	for _, recipient := range []string{"ada@teachers.test", "grace@teachers.test"} {
		_, err := service.TriggerSequence(school, models.TriggerTeacherJoined,
			map[string]interface{}{"recipient_email": recipient}, nil, nil)
		require.NoError(t, err)
	}
	service.ProcessDueSequenceEmails()

	status, err := service.GetSequenceStatus(seq.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, status.Total)
	assert.EqualValues(t, 2, status.ByStatus[models.StatusSent])
	assert.EqualValues(t, 2, status.ByStatus[models.StatusQueued])

	require.Len(t, status.Steps, 2)
	assert.Equal(t, 1, status.Steps[0].StepNumber)
	assert.EqualValues(t, 2, status.Steps[0].Sent)
	assert.EqualValues(t, 2, status.Steps[1].Total)
	assert.EqualValues(t, 0, status.Steps[1].Sent)
}
