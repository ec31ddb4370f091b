package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/internal/decision"
	"github.com/quantfleet/ashare/internal/llm"
	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/internal/prompt"
	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

// CycleResult summarizes one completed decision cycle. A cycle that
// aborts before the LLM call produces no result and no decision log.
type CycleResult struct {
	AgentID    string                   `json:"agent_id"`
	Status     models.DecisionStatus    `json:"status"`
	Decisions  []models.TradingDecision `json:"decisions,omitempty"`
	OrderIDs   []string                 `json:"order_ids,omitempty"`
	Filled     int                      `json:"filled"`
	Rejected   int                      `json:"rejected"`
	Held       int                      `json:"held"`
	LLMLatency time.Duration            `json:"llm_latency"`
	Duration   time.Duration            `json:"duration"`
	Error      string                   `json:"error,omitempty"`
}

// RunCycle executes one full decision cycle for the agent. Pre-flight
// failures (unknown or inactive agent, missing provider, missing
// portfolio) return a *models.DomainError and leave no trace; once the
// LLM has been called, exactly one DecisionLog row is written no matter
// how the cycle ends, and the returned error reports any API or parse
// failure so callers can retry.
func (s *Service) RunCycle(ctx context.Context, agentID string) (*CycleResult, error) {
	start := s.clock()

	ag, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !ag.IsActive() {
		return nil, models.NewDomainError(models.CodeAgentInactive, "agent %s is %s", agentID, ag.Status)
	}

	client, derr := s.resolveClient(ctx, ag)
	if derr != nil {
		return nil, derr
	}

	pf, err := s.Portfolio(ctx, agentID)
	if err != nil {
		return nil, err
	}

	pctx := s.buildPromptContext(ctx, ag, pf)
	tmpl := s.templates.ForAgent(ctx, ag)
	rendered := prompt.Render(tmpl.Content, pctx)

	clog := s.log.WithFields(logrus.Fields{"agent_id": ag.ID, "agent": ag.Name})
	clog.WithField("template", tmpl.ID).Info("decision cycle started")

	res := &CycleResult{AgentID: ag.ID}
	messages := []llm.Message{
		llm.SystemMessage(prompt.SystemPrompt),
		llm.UserMessage(rendered),
	}
	reply, err := client.Chat(ctx, messages, &llm.ChatOptions{
		Model:   ag.ModelName,
		AgentID: &ag.ID,
	})
	if err != nil {
		res.Status = models.DecisionAPIError
		res.Error = err.Error()
		res.Duration = s.clock().Sub(start)
		s.writeDecisionLog(ctx, ag.ID, rendered, "", res)
		clog.WithError(err).Warn("LLM call failed")
		return res, fmt.Errorf("llm chat: %w", err)
	}
	res.LLMLatency = reply.Latency

	decisions, err := decision.Parse(reply.Content)
	if err != nil {
		res.Status = models.DecisionAPIError
		res.Error = "unparseable reply: " + err.Error()
		res.Duration = s.clock().Sub(start)
		s.writeDecisionLog(ctx, ag.ID, rendered, reply.Content, res)
		clog.WithError(err).Warn("LLM reply not parseable")
		return res, fmt.Errorf("parse decisions: %w", err)
	}
	res.Decisions = decisions

	pf, invalid := s.executeDecisions(ctx, ag, pf, decisions, reply.LogID, res)

	if res.Filled > 0 {
		res.Status = models.DecisionSuccess
	} else {
		res.Status = models.DecisionNoTrade
		// Zero survivors reads differently from a deliberate hold.
		if invalid == len(decisions) {
			res.Error = "all decisions invalid"
		}
	}
	res.Duration = s.clock().Sub(start)
	s.writeDecisionLog(ctx, ag.ID, rendered, reply.Content, res)
	s.snapshot(ctx, ag, pf)

	clog.WithFields(logrus.Fields{
		"status":   res.Status,
		"filled":   res.Filled,
		"rejected": res.Rejected,
		"held":     res.Held,
		"latency":  res.LLMLatency.Round(time.Millisecond).String(),
	}).Info("decision cycle finished")
	return res, nil
}

// resolveClient maps the agent's provider reference to a ready client.
// Each failure mode keeps its own code so the API and task logs can
// tell an unset reference from a dangling or disabled one.
func (s *Service) resolveClient(ctx context.Context, ag *models.Agent) (llm.Client, *models.DomainError) {
	if ag.ProviderID == "" {
		return nil, models.NewDomainError(models.CodeProviderNotConfigured, "agent %s has no provider configured", ag.ID)
	}
	prov, err := s.store.ProviderByID(ctx, ag.ProviderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewDomainError(models.CodeProviderNotFound, "provider %s not found", ag.ProviderID)
	}
	if err != nil {
		return nil, models.NewDomainError(models.CodeProviderNotFound, "load provider %s: %v", ag.ProviderID, err)
	}
	if !prov.IsActive {
		return nil, models.NewDomainError(models.CodeProviderDisabled, "provider %s is disabled", prov.Name)
	}
	client, err := s.clients.For(prov)
	if err != nil {
		return nil, models.NewDomainError(models.CodeProviderNotConfigured, "provider %s: %v", prov.Name, err)
	}
	return client, nil
}

// ════════════════════════════════════════════════════════════════════
// Order execution
// ════════════════════════════════════════════════════════════════════

// executeDecisions walks the parsed list in LLM order. Trade decisions
// are validated against the live portfolio state, then processed and
// persisted one at a time; hold and wait decisions become hold orders.
// Returns the portfolio after the last fill and the number of decisions
// dropped at validation.
func (s *Service) executeDecisions(ctx context.Context, ag *models.Agent, pf *models.Portfolio, decisions []models.TradingDecision, llmLogID int64, res *CycleResult) (*models.Portfolio, int) {
	now := s.clock()
	fees := s.processor.FeeSchedule()
	prevCloses := s.prevCloses(ctx, decisions, now)

	var logID *int64
	if llmLogID > 0 {
		logID = &llmLogID
	}

	invalid := 0
	for _, d := range decisions {
		if !d.Type.IsTrade() {
			s.recordHold(ctx, ag.ID, logID, d, now, res)
			continue
		}

		ord := s.buildOrder(ctx, ag.ID, logID, d, now)

		vr := decision.Validate(d, decision.ValidateOptions{
			Portfolio: pf,
			PrevClose: prevCloses,
			Fees:      &fees,
		})
		if !vr.Valid {
			s.recordReject(ctx, ord, vr, res)
			invalid++
			continue
		}

		// Result carries the order whether it filled or was rejected;
		// the error only restates the rejection.
		procRes, _ := s.processor.Process(ord, pf, prevCloses[d.StockCode], now)

		if procRes.Filled() {
			if err := s.store.SaveOrderResult(ctx, procRes.Order, procRes.Transaction, procRes.Portfolio); err != nil {
				s.log.WithError(err).WithField("order_id", procRes.Order.ID).Error("persist filled order")
				continue
			}
			pf = procRes.Portfolio
			res.Filled++
		} else {
			if err := s.store.SaveOrderResult(ctx, procRes.Order, nil, nil); err != nil {
				s.log.WithError(err).WithField("order_id", procRes.Order.ID).Error("persist rejected order")
				continue
			}
			res.Rejected++
		}
		res.OrderIDs = append(res.OrderIDs, procRes.Order.ID)
		s.publish(EventOrderUpdate, procRes.Order)
	}
	return pf, invalid
}

// buildOrder turns a validated trade decision into a pending order.
// A decision without a limit price gets the freshest known price; when
// none exists the order keeps a nil price and the processor rejects it.
func (s *Service) buildOrder(ctx context.Context, agentID string, logID *int64, d models.TradingDecision, now time.Time) *models.Order {
	ord := &models.Order{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		LLMLogID:  logID,
		Side:      models.OrderSide(d.Type),
		Status:    models.OrderPending,
		Reason:    d.Reason,
		CreatedAt: now,
	}
	if d.StockCode != "" {
		code := d.StockCode
		ord.StockCode = &code
	}
	if d.Quantity > 0 {
		qty := d.Quantity
		ord.Quantity = &qty
	}
	if d.Price != nil {
		p := *d.Price
		ord.Price = &p
	} else if d.StockCode != "" {
		if q, err := s.market.GetLatestQuote(ctx, d.StockCode); err == nil && q.Close.IsPositive() {
			p := q.Close
			ord.Price = &p
		}
	}
	return ord
}

// recordHold persists the explicit do-nothing decision as a hold order
// with null stock, quantity and price columns.
func (s *Service) recordHold(ctx context.Context, agentID string, logID *int64, d models.TradingDecision, now time.Time, res *CycleResult) {
	ord := &models.Order{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		LLMLogID:  logID,
		Side:      models.Hold,
		Status:    models.OrderFilled,
		Reason:    d.Reason,
		CreatedAt: now,
	}
	if err := s.store.InsertOrder(ctx, ord); err != nil {
		s.log.WithError(err).WithField("agent_id", agentID).Error("persist hold order")
		return
	}
	res.OrderIDs = append(res.OrderIDs, ord.ID)
	res.Held++
	s.publish(EventOrderUpdate, ord)
}

// recordReject persists an order that failed pre-trade validation and
// never reached the processor.
func (s *Service) recordReject(ctx context.Context, ord *models.Order, vr models.ValidationResult, res *CycleResult) {
	reason := vr.Message
	ord.Status = models.OrderRejected
	ord.RejectReason = &reason
	if err := s.store.InsertOrder(ctx, ord); err != nil {
		s.log.WithError(err).WithField("order_id", ord.ID).Error("persist rejected order")
		return
	}
	res.OrderIDs = append(res.OrderIDs, ord.ID)
	res.Rejected++
	s.publish(EventOrderUpdate, ord)
}

// prevCloses collects the previous close for every code the decisions
// touch. A missing close stays zero, which skips the price-limit band
// downstream rather than failing the cycle.
func (s *Service) prevCloses(ctx context.Context, decisions []models.TradingDecision, now time.Time) map[string]decimal.Decimal {
	today := utils.FormatDateCST(now)
	out := make(map[string]decimal.Decimal)
	for _, d := range decisions {
		if !d.Type.IsTrade() || d.StockCode == "" {
			continue
		}
		code := rules.NormalizeCode(d.StockCode)
		if _, seen := out[code]; seen {
			continue
		}
		pc, err := s.store.PrevClose(ctx, code, today)
		if err != nil {
			s.log.WithError(err).WithField("code", code).Debug("prev close lookup failed")
			continue
		}
		out[code] = pc
	}
	return out
}

// snapshot records the end-of-cycle equity point used by the asset
// curve and drawdown metrics.
func (s *Service) snapshot(ctx context.Context, ag *models.Agent, pf *models.Portfolio) {
	prices := s.positionPrices(ctx, pf)
	mv := portfolio.MarketValue(pf, prices)
	total := pf.Cash.Add(mv)
	if err := s.store.SaveSnapshot(ctx, ag.ID, s.clock(), pf.Cash, mv, total); err != nil {
		s.log.WithError(err).WithField("agent_id", ag.ID).Warn("save portfolio snapshot")
		return
	}
	s.publish(EventPortfolioUpdate, map[string]any{
		"agent_id":     ag.ID,
		"cash":         pf.Cash,
		"market_value": mv,
		"total_assets": total,
	})
}

// writeDecisionLog persists the single audit row for this cycle.
func (s *Service) writeDecisionLog(ctx context.Context, agentID, promptContent, llmResponse string, res *CycleResult) {
	entry := &models.DecisionLog{
		AgentID:       agentID,
		PromptContent: promptContent,
		LLMResponse:   llmResponse,
		Decisions:     res.Decisions,
		OrderIDs:      res.OrderIDs,
		Status:        res.Status,
		ErrorMessage:  res.Error,
		CreatedAt:     s.clock(),
	}
	if err := s.store.InsertDecisionLog(ctx, entry); err != nil {
		s.log.WithError(err).WithField("agent_id", agentID).Error("persist decision log")
	}
}
