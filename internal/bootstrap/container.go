package bootstrap

import (
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"stepcount-be/internal/config"
	"stepcount-be/internal/controller"
	"stepcount-be/internal/pkg/logger"
	"stepcount-be/internal/service"
	"stepcount-be/internal/websocket"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/extraction"
	natsbus "stepcount-be/pkg/nats"
	"stepcount-be/pkg/patientdir"
	"stepcount-be/pkg/processing"
	"stepcount-be/pkg/transport"
	"stepcount-be/pkg/workflow"
)

type Container struct {
	// Controllers
	WorkflowController controller.IWorkflowController
	DeviceController   controller.IDeviceController
	PatientController  controller.IPatientController
	JobController      controller.IJobController

	// Background services (exposed for main.go to run)
	RelayService service.IRelayService

	// WebSockets
	WebSocketHub *websocket.Hub

	Logger logger.ILogger
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermillLogger)

	// 3. Device transport (simulated vs serial, selected by config)
	var tr transport.Transport
	if cfg.Device.Transport == "serial" {
		tr = transport.NewSerial(cfg.Device.SerialPaths)
		log.Printf("[INFO] Using device transport: SERIAL %v", cfg.Device.SerialPaths)
	} else {
		simCfg := transport.DefaultSimulatedConfig()
		simCfg.SampleCount = cfg.Device.SimSampleCount
		simCfg.SampleRate = cfg.Device.SimSampleRate
		simCfg.Seed = cfg.Device.SimSeed
		tr = transport.NewSimulated(simCfg)
		log.Printf("[INFO] Using device transport: SIMULATED (%d samples @ %.0f Hz)",
			simCfg.SampleCount, simCfg.SampleRate)
	}

	// 4. Core pipeline
	deviceManager := device.NewManager(tr, sysLogger)
	extractor := extraction.NewController(extraction.Config{
		ChunkSize:     cfg.Device.ChunkSize,
		ChunkDeadline: time.Duration(cfg.Device.ChunkDeadlineMS) * time.Millisecond,
	}, sysLogger)

	policy := processing.RetryPolicy{
		MaxAttempts:    cfg.Processing.MaxAttempts,
		WaitTime:       time.Duration(cfg.Processing.RetryWaitMS) * time.Millisecond,
		MaxWaitTime:    time.Duration(cfg.Processing.RetryMaxWaitMS) * time.Millisecond,
		RequestTimeout: cfg.Processing.Timeout(),
	}
	processor := processing.NewClient(cfg.Processing.BaseURL, policy, pubSub, sysLogger)

	patients := patientdir.NewClient(
		cfg.PatientDir.BaseURL,
		time.Duration(cfg.PatientDir.TimeoutSeconds)*time.Second,
		sysLogger,
	)

	orchestrator := workflow.NewOrchestrator(deviceManager, extractor, processor, patients, pubSub, sysLogger)

	// 5. Progress fan-out
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Invalid REDIS_URL, running single-instance: %v", err)
		} else {
			rdb = redis.NewClient(opts)
		}
	}
	hub := websocket.NewHub(rdb, sysLogger)

	var publisher *natsbus.Publisher
	if cfg.App.NatsURL != "" {
		p, err := natsbus.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] NATS unavailable, external events disabled: %v", err)
		} else {
			publisher = p
		}
	}

	return &Container{
		WorkflowController: controller.NewWorkflowController(orchestrator),
		DeviceController:   controller.NewDeviceController(deviceManager),
		PatientController:  controller.NewPatientController(patients),
		JobController:      controller.NewJobController(processor, cfg.Device.Transport),
		RelayService:       service.NewRelayService(pubSub, hub, publisher),
		WebSocketHub:       hub,
		Logger:             sysLogger,
	}
}
