// Package mqtt provides MQTT client connectivity for Freyja.
//
// Freyja uses MQTT in two places: provider proxies of the "mqtt" family
// connect to a provider's broker to receive entity values, and the emitter
// can publish converted values for the digital twin.
//
// # Features
//
//   - Auto-reconnect with exponential backoff and subscription restore
//   - Retained online/offline status with a Last Will
//   - Validated publish and subscribe with bounded waits
//   - Panic recovery around message handlers
//
// # Topics
//
// Every topic lives under a configurable prefix (default "freyja"):
//
//	<prefix>/system/status       retained client status
//	<prefix>/state/<entity>      provider -> Freyja values
//	<prefix>/request/<entity>    Freyja -> provider Get requests
//	<prefix>/twin/<target>       emitter output
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllProviderStates(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
