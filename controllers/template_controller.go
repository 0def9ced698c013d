package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

type TemplateRequest struct {
	TemplateType    string `json:"template_type" validate:"required"`
	Name            string `json:"name" validate:"required,max=200"`
	SubjectTemplate string `json:"subject_template" validate:"required,max=998"`
	HTMLContent     string `json:"html_content" validate:"required"`
	TextContent     string `json:"text_content"`

	UseSchoolBranding *bool  `json:"use_school_branding"`
	CustomCSS         string `json:"custom_css"`
	IsActive          *bool  `json:"is_active"`
	IsDefault         bool   `json:"is_default"`
}

type PreviewRequest struct {
	Context map[string]interface{} `json:"context"`
}

// validateTemplateRequest runs the content security checks on every
// author-supplied field. Rejections carry the validator's message so
// template authors can fix their content.
func validateTemplateRequest(req *TemplateRequest) error {
	if !models.IsValidTemplateType(req.TemplateType) {
		return errors.New("unknown template type: " + req.TemplateType)
	}
	if err := utils.ValidateTemplateContent(req.SubjectTemplate); err != nil {
		return err
	}
	if err := utils.ValidateTemplateContent(req.HTMLContent); err != nil {
		return err
	}
	if req.TextContent != "" {
		if err := utils.ValidateTemplateContent(req.TextContent); err != nil {
			return err
		}
	}
	if req.CustomCSS != "" {
		if _, err := utils.SanitizeCSS(req.CustomCSS); err != nil {
			return err
		}
	}
	return nil
}

func CreateTemplate(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var req TemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateTemplateRequest(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	tmpl := models.SchoolEmailTemplate{
		SchoolID:        &school.ID,
		TemplateType:    req.TemplateType,
		Name:            req.Name,
		SubjectTemplate: req.SubjectTemplate,
		HTMLContent:     req.HTMLContent,
		TextContent:     req.TextContent,
		CustomCSS:       req.CustomCSS,
		IsDefault:       req.IsDefault,
		IsActive:        true,
		UseSchoolBranding: true,
	}
	if req.IsActive != nil {
		tmpl.IsActive = *req.IsActive
	}
	if req.UseSchoolBranding != nil {
		tmpl.UseSchoolBranding = *req.UseSchoolBranding
	}

	if err := config.DB.Create(&tmpl).Error; err != nil {
		if errors.Is(err, models.ErrDuplicateDefaultTemplate) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create template",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(tmpl)
}

func ListTemplates(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	query := config.DB.Where("school_id = ?", school.ID)
	if t := c.Query("template_type"); t != "" {
		query = query.Where("template_type = ?", t)
	}

	var templates []models.SchoolEmailTemplate
	if err := query.Order("template_type, is_default DESC, updated_at DESC").Find(&templates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch templates",
		})
	}
	return c.JSON(utils.SuccessResponse(templates))
}

func GetTemplate(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var tmpl models.SchoolEmailTemplate
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}
	return c.JSON(tmpl)
}

func UpdateTemplate(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var tmpl models.SchoolEmailTemplate
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var req TemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateTemplateRequest(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	tmpl.TemplateType = req.TemplateType
	tmpl.Name = req.Name
	tmpl.SubjectTemplate = req.SubjectTemplate
	tmpl.HTMLContent = req.HTMLContent
	tmpl.TextContent = req.TextContent
	tmpl.CustomCSS = req.CustomCSS
	tmpl.IsDefault = req.IsDefault
	if req.IsActive != nil {
		tmpl.IsActive = *req.IsActive
	}
	if req.UseSchoolBranding != nil {
		tmpl.UseSchoolBranding = *req.UseSchoolBranding
	}

	if err := config.DB.Save(&tmpl).Error; err != nil {
		if errors.Is(err, models.ErrDuplicateDefaultTemplate) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update template",
		})
	}
	return c.JSON(tmpl)
}

// DeleteTemplate deactivates rather than deletes once communications
// reference the template, so historical sends keep their source.
func DeleteTemplate(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var tmpl models.SchoolEmailTemplate
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var refs int64
	config.DB.Model(&models.EmailCommunication{}).Where("template_id = ?", tmpl.ID).Count(&refs)
	if refs > 0 {
		if err := config.DB.Model(&tmpl).Updates(map[string]interface{}{
			"is_active":  false,
			"is_default": false,
		}).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to deactivate template",
			})
		}
		return c.JSON(fiber.Map{"message": "Template deactivated"})
	}

	if err := config.DB.Delete(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete template",
		})
	}
	return c.JSON(fiber.Map{"message": "Template deleted"})
}

// PreviewTemplate renders the stored template against a caller-supplied
// context without sending anything.
func PreviewTemplate(c *fiber.Ctx) error {
	school := currentSchool(c)
	if school == nil {
		return nil
	}

	var tmpl models.SchoolEmailTemplate
	if err := config.DB.Where("id = ? AND school_id = ?", c.Params("id"), school.ID).First(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var req PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rendered, err := utils.RenderEmailTemplate(&tmpl, school, req.Context)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"subject": rendered.Subject,
		"html":    rendered.HTML,
		"text":    rendered.Text,
	})
}
