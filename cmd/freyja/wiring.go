package main

import (
	"slices"

	"github.com/ruifelixpereira/freyja/internal/emitter"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/influxdb"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/logging"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/mqtt"
	"github.com/ruifelixpereira/freyja/internal/proxies/httpproxy"
	"github.com/ruifelixpereira/freyja/internal/proxies/inmemory"
	"github.com/ruifelixpereira/freyja/internal/proxies/kafkaproxy"
	"github.com/ruifelixpereira/freyja/internal/proxies/mqttproxy"
	"github.com/ruifelixpereira/freyja/internal/proxies/redisproxy"
	"github.com/ruifelixpereira/freyja/internal/proxies/wsproxy"
	"github.com/ruifelixpereira/freyja/internal/proxy"
)

// buildRegistry registers the enabled provider families in their fixed
// priority order: in-memory, http, mqtt, redis, kafka, websocket.
func buildRegistry(cfg *config.Config, log *logging.Logger) (*proxy.Registry, error) {
	p := cfg.Proxies
	var families []proxy.Family

	if p.InMemory.Enabled {
		sensors := make([]inmemory.Sensor, 0, len(p.InMemory.Entities))
		for _, e := range p.InMemory.Entities {
			s := inmemory.Sensor{EntityID: e.EntityID}
			s.Values.Static = e.Static
			if e.Stepwise != nil {
				s.Values.Stepwise = &inmemory.Stepwise{Start: e.Stepwise.Start, End: e.Stepwise.End, Delta: e.Stepwise.Delta}
			}
			sensors = append(sensors, s)
		}
		families = append(families, inmemory.Family(inmemory.Config{
			SignalUpdateFrequency: p.InMemory.SignalUpdateFrequency,
			Sensors:               sensors,
		}, log.Component(inmemory.Protocol)))
	}

	if p.HTTP.Enabled {
		families = append(families, httpproxy.Family(httpproxy.Config{
			PollInterval:   p.HTTP.PollInterval,
			RequestTimeout: p.HTTP.RequestTimeout,
		}, log.Component(httpproxy.Protocol)))
	}

	if p.MQTT.Enabled {
		families = append(families, mqttproxy.Family(mqttproxy.Config{
			PollInterval:   p.MQTT.PollInterval,
			RequestTimeout: p.MQTT.RequestTimeout,
			QoS:            byte(p.MQTT.QoS), // #nosec G115 -- validated to 0..2
			Auth:           p.MQTT.Auth,
		}, log.Component(mqttproxy.Protocol)))
	}

	if p.Redis.Enabled {
		families = append(families, redisproxy.Family(redisproxy.Config{
			KeyPrefix:    p.Redis.KeyPrefix,
			PollInterval: p.Redis.PollInterval,
			DialTimeout:  p.Redis.DialTimeout,
		}, log.Component(redisproxy.Protocol)))
	}

	if p.Kafka.Enabled {
		families = append(families, kafkaproxy.Family(kafkaproxy.Config{
			PollInterval:   p.Kafka.PollInterval,
			RequestTimeout: p.Kafka.RequestTimeout,
			GroupID:        p.Kafka.GroupID,
		}, log.Component(kafkaproxy.Protocol)))
	}

	if p.WebSocket.Enabled {
		families = append(families, wsproxy.Family(wsproxy.Config{
			PollInterval:     p.WebSocket.PollInterval,
			RequestTimeout:   p.WebSocket.RequestTimeout,
			HandshakeTimeout: p.WebSocket.HandshakeTimeout,
		}, log.Component(wsproxy.Protocol)))
	}

	return proxy.NewRegistry(families...)
}

// buildSinks returns the configured emitter outputs. Clients are nil when
// the matching sink is not configured.
func buildSinks(cfg *config.Config, log *logging.Logger, mqttClient *mqtt.Client, influxClient *influxdb.Client) []emitter.Sink {
	var sinks []emitter.Sink
	for _, name := range cfg.Emitter.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, emitter.LogSink{Logger: log.Component("twin")})
		case config.SinkMQTT:
			if mqttClient != nil {
				sinks = append(sinks, emitter.MQTTSink{
					Publisher: mqttClient,
					Topics:    mqttClient.Topics(),
					QoS:       byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
				})
			}
		case config.SinkInfluxDB:
			if influxClient != nil {
				sinks = append(sinks, emitter.InfluxSink{Writer: influxClient})
			}
		}
	}
	return sinks
}

func wantsSink(cfg *config.Config, name string) bool {
	return slices.Contains(cfg.Emitter.Sinks, name)
}
