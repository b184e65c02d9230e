package main

import (
	"time"

	"partnerflow/message"
	"partnerflow/partner"
	"partnerflow/project"
	"partnerflow/withdrawal"
)

type partnerResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	PartnerCode string  `json:"partner_code"`
	ReferredBy  *string `json:"referred_by,omitempty"`
	Role        string  `json:"role"`
	CreatedAt   string  `json:"created_at"`
}

func toPartnerResponse(p partner.Partner) partnerResponse {
	return partnerResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PartnerCode: p.PartnerCode,
		ReferredBy:  p.ReferredBy,
		Role:        string(p.Role),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

type loginResponse struct {
	Token   string          `json:"token"`
	Partner partnerResponse `json:"partner"`
}

type meResponse struct {
	Partner        partnerResponse `json:"partner"`
	DirectClicks   int             `json:"direct_clicks"`
	BonusClicks    int             `json:"bonus_clicks"`
	TotalEarnings  string          `json:"total_earnings"`
	AvailableFunds string          `json:"available_funds"`
}

type linkResponse struct {
	ShortCode      string `json:"short_code"`
	DestinationURL string `json:"destination_url"`
	CreatedAt      string `json:"created_at"`
}

type downlineResponse struct {
	PartnerCode  string `json:"partner_code"`
	DisplayName  string `json:"display_name"`
	DirectClicks int    `json:"direct_clicks"`
	BonusClicks  int    `json:"bonus_clicks"`
	JoinedAt     string `json:"joined_at"`
}

type withdrawalResponse struct {
	ID           string  `json:"id"`
	PartnerID    string  `json:"partner_id"`
	Amount       string  `json:"amount"`
	Method       string  `json:"method"`
	Destination  string  `json:"destination"`
	Status       string  `json:"status"`
	AdminMessage *string `json:"admin_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toWithdrawalResponse(req withdrawal.Request) withdrawalResponse {
	return withdrawalResponse{
		ID:           req.ID,
		PartnerID:    req.PartnerID,
		Amount:       req.Amount.StringFixed(2),
		Method:       string(req.Method),
		Destination:  req.Destination,
		Status:       string(req.Status),
		AdminMessage: req.AdminMessage,
		CreatedAt:    req.CreatedAt.Format(time.RFC3339),
	}
}

type messageResponse struct {
	ID         string  `json:"id"`
	PartnerID  string  `json:"partner_id"`
	SenderRole string  `json:"sender_role"`
	Body       string  `json:"body"`
	CreatedAt  string  `json:"created_at"`
	ReadAt     *string `json:"read_at,omitempty"`
}

func toMessageResponse(rec message.Record) messageResponse {
	resp := messageResponse{
		ID:         rec.ID,
		PartnerID:  rec.PartnerID,
		SenderRole: string(rec.SenderRole),
		Body:       rec.Body,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ReadAt != nil {
		formatted := rec.ReadAt.Format(time.RFC3339)
		resp.ReadAt = &formatted
	}
	return resp
}

type projectResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Details   string  `json:"details"`
	PartnerID *string `json:"partner_id,omitempty"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

func toProjectResponse(rec project.Record) projectResponse {
	return projectResponse{
		ID:        rec.ID,
		Title:     rec.Title,
		Details:   rec.Details,
		PartnerID: rec.PartnerID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}
