// Package realtime runs the detection pipeline on a live capture device.
package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/coughdetect/internal/analysis"
	"github.com/tphakala/coughdetect/internal/api"
	"github.com/tphakala/coughdetect/internal/buildinfo"
	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/diskmanager"
	"github.com/tphakala/coughdetect/internal/enrichment"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/mqtt"
	"github.com/tphakala/coughdetect/internal/myaudio"
	"github.com/tphakala/coughdetect/internal/observability"
)

// Command creates a new command for real-time audio analysis.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var paused bool

	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Analyze audio in realtime mode",
		Long:  "Capture audio from the configured device and record cough and snore events until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run(cmd.Context(), settings, build, !paused)
		},
	}

	if err := setupFlags(cmd, &paused); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, paused *bool) error {
	cmd.Flags().String("source", "", "Audio capture source, a device name substring or ID")
	cmd.Flags().String("clippath", "", "Path to save audio clips")
	cmd.Flags().String("model", "", "Path to a TFLite model, empty for rule-based detection")
	cmd.Flags().Float64("threshold", conf.DefaultThreshold, "Minimum confidence of a positive window")
	cmd.Flags().Bool("telemetry", false, "Enable Prometheus telemetry endpoint")
	cmd.Flags().Bool("api", false, "Enable the control API")
	cmd.Flags().BoolVar(paused, "idle", false, "Do not start detection until requested over the control API")

	bindings := map[string]string{
		"source":    "audio.source",
		"clippath":  "audio.clipspath",
		"model":     "classifier.modelpath",
		"threshold": "detection.threshold",
		"telemetry": "telemetry.enabled",
		"api":       "webserver.enabled",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run wires capture, classification, persistence, enrichment, publishing
// and the optional HTTP surfaces, and blocks until ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, autostart bool) error {
	log := logger.Global().Module("realtime")
	log.Info("starting coughdetect", logger.String("version", build.GetVersion()))

	store := conf.NewStore(settings)
	sessionID := uuid.NewString()

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	db, err := datastore.New(settings)
	if err != nil {
		return err
	}
	if err := db.Open(); err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close record store", logger.Error(err))
		}
	}()
	db.SetMetrics(m.Datastore)

	quota := diskmanager.NewQuotaManager(db)
	quota.SetMetrics(m.DiskManager)

	pipeline := enrichment.NewPipeline(enrichment.Environment{
		Settings:  store,
		SessionID: sessionID,
		Metrics:   m.Enrichment,
	}, enrichment.DefaultPlugins()...)
	log.Info("enrichment plugins active", logger.Any("plugins", pipeline.Plugins()))

	cls := classifier.New(settings.Classifier)
	defer cls.Close()
	cls.SetMetrics(m.Detection)

	recorder := analysis.NewRecorder(store, db, quota, pipeline)
	recorder.SetMetrics(m.Detection, m.Audio)
	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(&settings.MQTT, m.MQTT)
		if err != nil {
			log.Warn("mqtt publishing disabled", logger.Error(err))
		} else {
			defer client.Disconnect()
			publisher := mqtt.NewEventPublisher(client, &settings.MQTT, sessionID)
			publisher.SetMetrics(m.MQTT)
			recorder.SetPublisher(publisher)
			log.Info("publishing events over mqtt", logger.String("topic", publisher.Topic()))
		}
	}

	device := myaudio.NewMalgoDevice(settings.Audio.Source, settings.Debug)
	engine, err := analysis.New(analysis.Config{
		Settings:   store,
		Classifier: cls,
		Sink:       recorder,
		Metrics:    m.Detection,
		Audio:      m.Audio,
		SessionID:  sessionID,
		Source: func(onFrame func(myaudio.AudioFrame), onError func(error)) analysis.AudioSource {
			capture := myaudio.NewCapture(device, onFrame, onError)
			capture.SetMetrics(m.Audio)
			return capture
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("failed to release audio device", logger.Error(err))
		}
	}()

	var endpoint *observability.Endpoint
	if settings.Telemetry.Enabled {
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
	}
	var server *api.Server
	if settings.WebServer.Enabled {
		server, err = api.NewServer(settings, api.Config{
			Engine:         engine,
			Store:          db,
			Settings:       store,
			ClassifierMode: string(cls.Mode()),
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// the recorder outlives the signal; it is closed after the engine stopped
	recorder.Start(context.WithoutCancel(gctx))

	if endpoint != nil {
		g.Go(func() error { return endpoint.Start(gctx) })
	}
	if server != nil {
		g.Go(func() error { return server.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		recorder.Close()
		log.Info("detection pipeline stopped", logger.Any("stats", engine.Stats()))
		return nil
	})

	if autostart {
		if err := engine.Start(gctx); err != nil {
			if server == nil {
				cancel()
				_ = g.Wait()
				return err
			}
			log.Warn("detection not started, retry through the control API", logger.Error(err))
		}
	}

	return g.Wait()
}
