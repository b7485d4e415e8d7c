package ldbws

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// DefaultURL — адрес OpenLDBWS.
const DefaultURL = "https://lite.realtime.nationalrail.co.uk/OpenLDBWS/ldb11.asmx"

// ErrNoServices возвращается, если по направлению нет ни одного рейса.
var ErrNoServices = errors.New("ldbws: no services")

// FaultError — SOAP Fault от сервиса. Повторять такие запросы бессмысленно.
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("ldbws: fault %s: %s", e.Code, e.Message)
}

// Config задаёт параметры клиента.
type Config struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client ходит в OpenLDBWS по SOAP 1.1.
type Client struct {
	http       *http.Client
	url        string
	token      string
	maxRetries uint64
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
}

var _ domain.StatusSource = (*Client)(nil)

// NewClient создаёт клиента LDBWS.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		url:        cfg.URL,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		log:        logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// NextStatus реализует domain.StatusSource: статус ближайшего рейса origin → destination.
// Если рейсов нет, возвращает nil без ошибки.
func (c *Client) NextStatus(ctx context.Context, origin, destination string) (*domain.DisruptionStatus, error) {
	origin = domain.NormalizeStation(origin)
	destination = domain.NormalizeStation(destination)

	req := nextDeparturesRequest{CRS: origin, FilterList: []string{destination}}
	var resp responseEnvelope
	if err := c.call(ctx, actionNextDepartures, origin+"-"+destination, req, &resp); err != nil {
		return nil, err
	}
	if resp.Body.Next == nil {
		return nil, fmt.Errorf("ldbws: пустой ответ %s", actionNextDepartures)
	}

	status, err := statusFromBoard(resp.Body.Next, destination)
	if errors.Is(err, ErrNoServices) {
		c.log.Debug().Str("origin", origin).Str("destination", destination).Msg("рейсов нет")
		return nil, nil
	}
	return status, err
}

// DepartureBoard реализует domain.StatusSource: табло отправлений станции.
func (c *Client) DepartureBoard(ctx context.Context, origin, destination string, rows int) (domain.DepartureBoard, error) {
	origin = domain.NormalizeStation(origin)
	destination = domain.NormalizeStation(destination)
	if rows <= 0 {
		rows = 10
	}

	req := depBoardRequest{NumRows: rows, CRS: origin, FilterCRS: destination}
	var resp responseEnvelope
	if err := c.call(ctx, actionDepBoard, origin, req, &resp); err != nil {
		return domain.DepartureBoard{}, err
	}
	if resp.Body.Board == nil || len(resp.Body.Board.Services) == 0 {
		return domain.DepartureBoard{}, ErrNoServices
	}
	return boardFromResponse(resp.Body.Board), nil
}

func (c *Client) call(ctx context.Context, action, target string, content any, out *responseEnvelope) error {
	payload, err := xml.Marshal(newEnvelope(c.token, content))
	if err != nil {
		return fmt.Errorf("ldbws: сериализация запроса: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		err := c.do(ctx, action, payload, out)
		metrics.ObserveNetworkRequest("ldbws", action, target, start, err)
		if err != nil {
			var fault *FaultError
			if errors.As(err, &fault) {
				return backoff.Permanent(err)
			}
			c.log.Warn().Err(err).Str("action", action).Int("attempt", attempt).Msg("ldbws: запрос не удался")
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.Retry(op, b)
}

func (c *Client) do(ctx context.Context, action string, payload []byte, out *responseEnvelope) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("ldbws: формирование запроса: %w", err))
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", `"`+actionPrefix+action+`"`)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ldbws: выполнение запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ldbws: чтение ответа: %w", err)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("ldbws: неожиданный статус %d", resp.StatusCode)
		}
		return backoff.Permanent(fmt.Errorf("ldbws: разбор ответа: %w", err))
	}
	if env.Body.Fault != nil {
		return &FaultError{Code: env.Body.Fault.Code, Message: strings.TrimSpace(env.Body.Fault.String)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ldbws: неожиданный статус %d", resp.StatusCode)
	}
	*out = env
	return nil
}

func statusFromBoard(board *departuresBoard, destination string) (*domain.DisruptionStatus, error) {
	var svc *serviceItem
	for i := range board.Departures {
		dep := board.Departures[i]
		if dep.Service == nil || dep.Service.STD == "" {
			continue
		}
		if destination == "" || strings.EqualFold(dep.CRS, destination) {
			svc = dep.Service
			break
		}
	}
	if svc == nil {
		return nil, ErrNoServices
	}

	status := &domain.DisruptionStatus{
		Origin:             firstLocation(svc.Origin, board.LocationName),
		Destination:        firstLocation(svc.Destination, destination),
		ServiceType:        svc.ServiceType,
		ScheduledDeparture: svc.STD,
		EstimatedDeparture: svc.ETD,
		ScheduledArrival:   svc.STA,
		EstimatedArrival:   svc.ETA,
		DelayReason:        strings.TrimSpace(svc.DelayReason),
		Cancelled:          svc.IsCancelled,
		CancelReason:       strings.TrimSpace(svc.CancelReason),
	}
	// Прибытие в пункт назначения берём из последующих остановок.
	if status.ScheduledArrival == "" {
		for _, cp := range svc.CallingPoint {
			if strings.EqualFold(cp.CRS, destination) {
				status.ScheduledArrival = cp.ST
				status.EstimatedArrival = cp.ET
				break
			}
		}
	}
	return status, nil
}

func boardFromResponse(board *stationBoard) domain.DepartureBoard {
	out := domain.DepartureBoard{LocationName: board.LocationName}
	for _, svc := range board.Services {
		out.Services = append(out.Services, domain.BoardService{
			ScheduledDeparture: svc.STD,
			EstimatedDeparture: svc.ETD,
			Destination:        firstLocation(svc.Destination, ""),
			Platform:           svc.Platform,
		})
	}
	return out
}

func firstLocation(locs []location, fallback string) string {
	if len(locs) == 0 || locs[0].Name == "" {
		return fallback
	}
	return locs[0].Name
}
