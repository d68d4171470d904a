package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// Client клиент платежного шлюза PaySlip. Создается явно и внедряется как
// зависимость; никакого глобального состояния, в тестах подменяется фейком
// через интерфейс PaymentGateway в сервисном слое.
type Client struct {
	baseURL    string
	secret     string
	returnURL  string
	httpClient *http.Client
	log        *logger.Logger
}

// Config конфигурация клиента шлюза
type Config struct {
	BaseURL   string
	Secret    string
	ReturnURL string
	Timeout   time.Duration
}

// NewClient создает новый клиент шлюза
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		secret:    cfg.Secret,
		returnURL: cfg.ReturnURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// InitiateResult результат инициации платежа
type InitiateResult struct {
	PaymentURL     string
	TransactionRef string
}

// initiateRequest исходящий запрос инициации платежа
type initiateRequest struct {
	RefCommand  string `json:"ref_command"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ItemName    string `json:"item_name"`
	CustomField string `json:"custom_field"`
	ReturnURL   string `json:"return_url"`
}

// initiateResponse ответ шлюза на инициацию платежа
type initiateResponse struct {
	Success        bool   `json:"success"`
	RedirectURL    string `json:"redirect_url"`
	TransactionRef string `json:"token"`
	Message        string `json:"message"`
}

// Initiate строит и отправляет запрос инициации платежа. refCommand генерирует
// вызывающая сторона и он уникален на попытку: повтор после сетевой ошибки с
// тем же refCommand не создает дубликат на стороне шлюза.
func (c *Client) Initiate(ctx context.Context, userID uuid.UUID, plan domain.Plan, refCommand string) (InitiateResult, error) {
	reqBody := initiateRequest{
		RefCommand:  refCommand,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		ItemName:    plan.Name,
		CustomField: userID.String(),
		ReturnURL:   c.returnURL,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("gateway: failed to marshal initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/payment/request-payment", bytes.NewReader(payload))
	if err != nil {
		return InitiateResult{}, fmt.Errorf("gateway: failed to build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignPayload(c.secret, payload))
	req.Header.Set("Idempotency-Key", refCommand)

	c.log.Debugw("Initiating payment", "refCommand", refCommand, "userID", userID, "amount", plan.Price)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Таймаут или сетевая ошибка: подписка остается PENDING, повтор
		// безопасен с тем же refCommand
		c.log.Errorw("Gateway initiate request failed", "error", err, "refCommand", refCommand)
		return InitiateResult{}, domain.NewGatewayError("initiate", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return InitiateResult{}, domain.NewGatewayError("initiate", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Errorw("Gateway initiate returned non-OK status", "status", resp.StatusCode, "refCommand", refCommand)
		return InitiateResult{}, domain.NewGatewayError("initiate", resp.StatusCode, errors.New(string(body)))
	}

	var gwResp initiateResponse
	if err := json.Unmarshal(body, &gwResp); err != nil {
		return InitiateResult{}, domain.NewGatewayError("initiate", resp.StatusCode, fmt.Errorf("malformed response: %w", err))
	}

	if !gwResp.Success || gwResp.RedirectURL == "" {
		c.log.Errorw("Gateway rejected payment initiation", "refCommand", refCommand, "message", gwResp.Message)
		return InitiateResult{}, domain.NewGatewayError("initiate", resp.StatusCode, fmt.Errorf("gateway rejected request: %s", gwResp.Message))
	}

	// Шлюз может вернуть собственный токен транзакции; корреляция при этом
	// всегда идет по refCommand, который мы записали в подписку
	transactionRef := gwResp.TransactionRef
	if transactionRef == "" {
		transactionRef = refCommand
	}

	c.log.Infow("Payment initiated", "refCommand", refCommand, "transactionRef", transactionRef)
	return InitiateResult{
		PaymentURL:     gwResp.RedirectURL,
		TransactionRef: transactionRef,
	}, nil
}
