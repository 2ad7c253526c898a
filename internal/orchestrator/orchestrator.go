// Package orchestrator runs the per-turn pipeline: persist the inbound
// message, augment, generate, voice, persist the reply and publish it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/miraihub/mirai-gateway/internal/agent"
	"github.com/miraihub/mirai-gateway/internal/augment"
	"github.com/miraihub/mirai-gateway/internal/llm"
	"github.com/miraihub/mirai-gateway/internal/metrics"
	"github.com/miraihub/mirai-gateway/internal/pubsub"
	"github.com/miraihub/mirai-gateway/internal/store"
	"github.com/miraihub/mirai-gateway/internal/tts"
)

// State is a turn's position in the pipeline.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateClassified State = "CLASSIFIED"
	StateAugmented  State = "AUGMENTED"
	StateGenerating State = "GENERATING"
	StateVoicing    State = "VOICING"
	StatePersisted  State = "PERSISTED"
	StatePublished  State = "PUBLISHED"
	StateFailed     State = "FAILED"
)

// Augmenter produces the grounding context for a turn.
type Augmenter interface {
	Augment(ctx context.Context, conversationID, text string) *augment.Context
}

// historyLimit bounds how much conversation history feeds the prompt.
const historyLimit = 20

type turn struct {
	conversationID string
	userMessage    *store.Message
	persona        *agent.Persona
	global         bool
	received       time.Time
}

// Orchestrator owns the per-conversation run queues and the turn pipeline.
type Orchestrator struct {
	store     *store.Store
	augmenter Augmenter
	generator llm.Generator
	synth     tts.Synthesizer
	roster    *agent.Roster
	hub       *pubsub.Hub
	logger    *slog.Logger

	queueDepth int

	mu      sync.Mutex
	queues  map[string]chan *turn
	closing bool
	wg      sync.WaitGroup
}

// New wires an Orchestrator. synth may be nil to disable voicing.
func New(st *store.Store, augmenter Augmenter, generator llm.Generator, synth tts.Synthesizer, roster *agent.Roster, hub *pubsub.Hub, queueDepth int, logger *slog.Logger) *Orchestrator {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &Orchestrator{
		store:      st,
		augmenter:  augmenter,
		generator:  generator,
		synth:      synth,
		roster:     roster,
		hub:        hub,
		logger:     logger,
		queueDepth: queueDepth,
		queues:     make(map[string]chan *turn),
	}
}

// HandleUserMessage persists the inbound message, publishes it to the
// conversation's channel and enqueues the reply pipeline. It returns as
// soon as the turn is queued; the reply is produced in the background.
//
// Turns for one conversation run strictly in send order on a dedicated
// queue; distinct conversations run in parallel.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, conversationID, text string) (*store.Message, error) {
	global := conversationID == store.GlobalConversationID

	if !global {
		if _, err := o.store.GetConversation(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("unknown conversation %s: %w", conversationID, err)
		}
	}

	// The user's turn is durable before anything else happens.
	msg := &store.Message{
		ConversationUID: conversationID,
		Content:         text,
		Type:            store.MessageUser,
	}
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	o.publishMessage(conversationID, msg)

	persona := o.selectPersona(ctx, conversationID, text, global)
	if persona == nil && global {
		// Nobody was addressed by name; the message stands on its own.
		o.logger.Info("global message addresses no agent, no reply generated")
		return msg, nil
	}

	t := &turn{
		conversationID: conversationID,
		userMessage:    msg,
		persona:        persona,
		global:         global,
		received:       time.Now(),
	}
	metrics.TurnsTotal.WithLabelValues(string(StateReceived)).Inc()

	queue, err := o.queueFor(conversationID)
	if err != nil {
		return nil, err
	}
	queue <- t
	return msg, nil
}

// selectPersona resolves which persona replies. Global turns route by
// vocative; regular conversations use their configured agent.
func (o *Orchestrator) selectPersona(ctx context.Context, conversationID, text string, global bool) *agent.Persona {
	if global {
		persona, ok := o.roster.DetectVocative(text)
		if !ok {
			return nil
		}
		return persona
	}

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil || conv.AgentUID == "" {
		return nil
	}
	persona, _ := o.roster.Get(conv.AgentUID)
	return persona
}

// queueFor returns the conversation's run queue, starting its consumer on
// first use.
func (o *Orchestrator) queueFor(conversationID string) (chan *turn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closing {
		return nil, fmt.Errorf("orchestrator is shutting down")
	}
	if queue, ok := o.queues[conversationID]; ok {
		return queue, nil
	}

	queue := make(chan *turn, o.queueDepth)
	o.queues[conversationID] = queue
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for t := range queue {
			o.runTurn(t)
		}
	}()
	return queue, nil
}

// Close drains the run queues and waits for in-flight turns. Safe to call
// more than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		o.wg.Wait()
		return
	}
	o.closing = true
	for _, queue := range o.queues {
		close(queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// runTurn executes one turn end to end. Any failure after the inbound
// message was persisted moves the turn to FAILED: the user's message stays
// visible, no reply is produced and nothing is retried.
func (o *Orchestrator) runTurn(t *turn) {
	ctx := context.Background()
	state := StateReceived

	defer func() {
		if r := recover(); r != nil {
			o.failTurn(t, state, fmt.Errorf("turn panicked: %v", r))
		}
	}()

	grounding := o.augmenter.Augment(ctx, t.conversationID, t.userMessage.Content)
	state = StateClassified
	metrics.TurnsTotal.WithLabelValues(string(state)).Inc()
	if grounding.Classification != nil {
		metrics.QueryClassifications.WithLabelValues(string(grounding.Classification.QueryType)).Inc()
	}
	state = StateAugmented
	metrics.TurnsTotal.WithLabelValues(string(state)).Inc()

	history, err := o.store.ListMessages(ctx, t.conversationID, historyLimit)
	if err != nil {
		o.failTurn(t, state, fmt.Errorf("failed to load history: %w", err))
		return
	}
	// The inbound message is already persisted; drop it from the history
	// block so it only appears as the current query.
	if n := len(history); n > 0 && history[n-1].UID == t.userMessage.UID {
		history = history[:n-1]
	}

	personality := ""
	if t.persona != nil {
		personality = t.persona.PersonalityPrompt
		if t.global {
			personality = agent.GlobalPreamble(t.persona.Name) + "\n\n" + personality
		}
	}
	prompt := agent.BuildPrompt(&agent.PromptInput{
		Persona:        &agent.Persona{Name: personaName(t.persona), PersonalityPrompt: personality},
		History:        history,
		CurrentMessage: t.userMessage.Content,
		GroundingText:  grounding.SystemText,
		ModuleResult:   grounding.Provenance == augment.ProvenanceAPIModule,
	})

	state = StateGenerating
	metrics.TurnsTotal.WithLabelValues(string(state)).Inc()
	reply, err := o.generator.Generate(ctx, &llm.Request{Prompt: prompt})
	if err != nil {
		o.failTurn(t, state, fmt.Errorf("generation failed: %w", err))
		return
	}

	var voiceline *tts.Voiceline
	if o.synth != nil && t.persona != nil && t.persona.Voice != "" {
		state = StateVoicing
		metrics.TurnsTotal.WithLabelValues(string(state)).Inc()
		voiceline, err = o.synth.Synthesize(ctx, reply.Content, t.persona.Voice)
		if err != nil {
			o.failTurn(t, state, fmt.Errorf("voicing failed: %w", err))
			return
		}
	}

	latency := time.Since(t.received)
	outbound := &store.Message{
		ConversationUID: t.conversationID,
		Content:         reply.Content,
		Type:            store.MessageAgent,
		Metadata: map[string]string{
			"provenance":          string(grounding.Provenance),
			"response_latency_ms": strconv.FormatInt(latency.Milliseconds(), 10),
		},
	}
	if t.persona != nil {
		outbound.AgentUID = t.persona.UID
		outbound.Metadata["agent_name"] = t.persona.Name
	}
	if grounding.SearchTerms != "" {
		outbound.Metadata["search_terms"] = grounding.SearchTerms
	}
	if voiceline != nil {
		outbound.VoicelinePath = voiceline.Path
		outbound.Metadata["audio_duration_ms"] = strconv.FormatInt(voiceline.Duration.Milliseconds(), 10)
	}

	state = StatePersisted
	if err := o.store.InsertMessage(ctx, outbound); err != nil {
		o.failTurn(t, state, fmt.Errorf("failed to persist reply: %w", err))
		return
	}
	metrics.TurnsTotal.WithLabelValues(string(state)).Inc()

	o.publishMessage(t.conversationID, outbound)
	state = StatePublished
	metrics.TurnsTotal.WithLabelValues(string(state)).Inc()
	metrics.TurnDuration.Observe(latency.Seconds())

	o.logger.Info("turn complete",
		"conversation", t.conversationID,
		"provenance", grounding.Provenance,
		"latency", latency)
}

func (o *Orchestrator) failTurn(t *turn, state State, err error) {
	metrics.TurnsTotal.WithLabelValues(string(StateFailed)).Inc()
	o.logger.Error("turn failed",
		"conversation", t.conversationID,
		"state", string(state),
		"error", err)
}

func (o *Orchestrator) publishMessage(conversationID string, msg *store.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		o.logger.Error("failed to serialize message for publish", "message", msg.UID, "error", err)
		return
	}
	channel := pubsub.ConversationChannel(conversationID)
	if conversationID == store.GlobalConversationID {
		channel = pubsub.GlobalChannel
	}
	o.hub.Publish(channel, string(payload))
}

func personaName(p *agent.Persona) string {
	if p == nil {
		return ""
	}
	return p.Name
}
