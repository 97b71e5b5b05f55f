package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"stepcount-be/internal/model"
	"stepcount-be/internal/websocket"
	"stepcount-be/pkg/events"
	natsbus "stepcount-be/pkg/nats"
	"stepcount-be/pkg/processing"
	"stepcount-be/pkg/workflow"
)

type IRelayService interface {
	Consume(ctx context.Context) error
}

// relayService bridges the in-process bus to the outside: workflow and job
// transitions go to the websocket hub for the operator UI, terminal
// workflow events additionally go to NATS for downstream consumers.
type relayService struct {
	pubSub    *gochannel.GoChannel
	hub       *websocket.Hub
	publisher *natsbus.Publisher // nil when no bus is configured

	// job id -> workflow context id, learned from workflow events so job
	// transitions can be routed to the right connection.
	jobOwners map[string]string
}

func NewRelayService(pubSub *gochannel.GoChannel, hub *websocket.Hub, publisher *natsbus.Publisher) IRelayService {
	return &relayService{
		pubSub:    pubSub,
		hub:       hub,
		publisher: publisher,
		jobOwners: make(map[string]string),
	}
}

func (rs *relayService) Consume(ctx context.Context) error {
	workflowMsgs, err := rs.pubSub.Subscribe(ctx, workflow.TopicWorkflowEvents)
	if err != nil {
		return err
	}
	jobMsgs, err := rs.pubSub.Subscribe(ctx, processing.TopicJobEvents)
	if err != nil {
		return err
	}

	// Single consumer goroutine so jobOwners needs no lock.
	go func() {
		for workflowMsgs != nil || jobMsgs != nil {
			select {
			case msg, ok := <-workflowMsgs:
				if !ok {
					workflowMsgs = nil
					continue
				}
				rs.relayWorkflow(ctx, msg)
			case msg, ok := <-jobMsgs:
				if !ok {
					jobMsgs = nil
					continue
				}
				rs.relayJob(msg)
			}
		}
	}()

	return nil
}

func (rs *relayService) relayWorkflow(ctx context.Context, msg *message.Message) {
	var ev workflow.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Printf("[ERROR] Failed to unmarshal workflow event: %v", err)
		msg.Ack()
		return
	}

	if ev.JobID != "" {
		rs.jobOwners[ev.JobID] = ev.ContextID
	}
	rs.hub.Send(ev.ContextID, "workflow", ev)

	if rs.publisher != nil {
		switch ev.State {
		case model.WorkflowCompleted:
			if err := rs.publisher.Publish(ctx, events.WorkflowCompleted(ev.ContextID, ev.PatientID, ev.JobID, ev.TotalSteps)); err != nil {
				log.Printf("[ERROR] Failed to publish completion event: %v", err)
			}
		case model.WorkflowFailed:
			if err := rs.publisher.Publish(ctx, events.WorkflowFailed(ev.ContextID, ev.Detail)); err != nil {
				log.Printf("[ERROR] Failed to publish failure event: %v", err)
			}
		}
	}
	msg.Ack()
}

func (rs *relayService) relayJob(msg *message.Message) {
	var ev processing.JobEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Printf("[ERROR] Failed to unmarshal job event: %v", err)
		msg.Ack()
		return
	}

	if contextID, ok := rs.jobOwners[ev.JobID]; ok {
		rs.hub.Send(contextID, "job", ev)
	}
	msg.Ack()
}
