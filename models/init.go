package models

import "gorm.io/gorm"

// CreateDefaultTemplates seeds the platform-wide default templates used
// when a school has no template of its own for a type. Invoked during
// database migration.
func CreateDefaultTemplates(db *gorm.DB) error {
	defaultTemplates := []SchoolEmailTemplate{
		{
			TemplateType:    TemplateInvitation,
			Name:            "Default invitation",
			SubjectTemplate: "{{ inviter_name }} invited you to join {{ school_name }}",
			HTMLContent: `<h1>You're invited to {{ school_name }}</h1>
<p>Hello{% if teacher_name %} {{ teacher_name }}{% endif %},</p>
<p>{{ inviter_name }} has invited you to join {{ school_name }} on {{ platform_name }}.</p>
{% if custom_message %}<blockquote>{{ custom_message }}</blockquote>{% endif %}
<p><a href="{{ invitation_link }}">Accept your invitation</a></p>
<p>This invitation expires on {{ invitation_expires }}.</p>`,
			TextContent: `Hello{% if teacher_name %} {{ teacher_name }}{% endif %},

{{ inviter_name }} has invited you to join {{ school_name }} on {{ platform_name }}.
{% if custom_message %}{{ custom_message }}{% endif %}
Accept your invitation: {{ invitation_link }}

This invitation expires on {{ invitation_expires }}.`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateReminder,
			Name:            "Default reminder",
			SubjectTemplate: "Reminder: your invitation to {{ school_name }} is waiting",
			HTMLContent: `<p>Hello{% if teacher_name %} {{ teacher_name }}{% endif %},</p>
<p>Just a reminder that your invitation to join {{ school_name }} is still open.</p>
<p><a href="{{ invitation_link }}">Accept your invitation</a></p>`,
			TextContent: `Your invitation to join {{ school_name }} is still open.

Accept it here: {{ invitation_link }}`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateWelcome,
			Name:            "Default welcome",
			SubjectTemplate: "Welcome to {{ school_name }}, {{ teacher_name }}!",
			HTMLContent: `<h1>Welcome aboard, {{ teacher_name }}!</h1>
<p>Your account at {{ school_name }} is ready.</p>
<p><a href="{{ dashboard_link }}">Go to your dashboard</a></p>`,
			TextContent: `Welcome aboard, {{ teacher_name }}!

Your account at {{ school_name }} is ready: {{ dashboard_link }}`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateProfileReminder,
			Name:            "Default profile reminder",
			SubjectTemplate: "Complete your profile at {{ school_name }}",
			HTMLContent: `<p>Hello {{ teacher_name }},</p>
<p>Your profile at {{ school_name }} is missing a few details. A complete
profile helps students find you.</p>
<p><a href="{{ profile_link }}">Finish your profile</a></p>`,
			TextContent: `Your profile at {{ school_name }} is missing a few details.

Finish it here: {{ profile_link }}`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateCompletionCelebration,
			Name:            "Default completion celebration",
			SubjectTemplate: "Your profile at {{ school_name }} is complete",
			HTMLContent: `<h1>Nice work, {{ teacher_name }}!</h1>
<p>Your profile at {{ school_name }} is complete and visible to students.</p>`,
			TextContent: `Nice work, {{ teacher_name }}! Your profile at {{ school_name }} is complete.`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateOngoingSupport,
			Name:            "Default ongoing support",
			SubjectTemplate: "How is it going at {{ school_name }}?",
			HTMLContent: `<p>Hello {{ teacher_name }},</p>
<p>We hope things are going well at {{ school_name }}. If you need help,
reach us at {{ support_email }}.</p>`,
			TextContent: `We hope things are going well at {{ school_name }}.
If you need help, reach us at {{ support_email }}.`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplateLowBalanceAlert,
			Name:            "Default low balance alert",
			SubjectTemplate: "{{ school_name }}: email credit balance is low",
			HTMLContent: `<p>Your school {{ school_name }} has {{ credit_balance }} email credits left.</p>
<p><a href="{{ billing_link }}">Top up your balance</a> to keep sending.</p>`,
			TextContent: `Your school {{ school_name }} has {{ credit_balance }} email credits left.
Top up: {{ billing_link }}`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
		{
			TemplateType:    TemplatePackageExpiringAlert,
			Name:            "Default package expiring alert",
			SubjectTemplate: "A package at {{ school_name }} is about to expire",
			HTMLContent: `<p>Hello {{ teacher_name }},</p>
<p>A lesson package at {{ school_name }} expires on {{ package_expires }}.</p>`,
			TextContent: `A lesson package at {{ school_name }} expires on {{ package_expires }}.`,
			UseSchoolBranding: true,
			IsActive:          true,
			IsDefault:         true,
		},
	}

	for _, tmpl := range defaultTemplates {
		err := db.Where("school_id IS NULL AND template_type = ? AND is_default = ?", tmpl.TemplateType, true).
			FirstOrCreate(&tmpl).Error
		if err != nil {
			return err
		}
	}
	return nil
}
