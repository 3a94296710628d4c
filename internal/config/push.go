package config

import "encoding/json"

// decodePushConfigJSON unmarshals the JSON shape of `.ffbox/config.json`
// (exclude patterns, scripts.run / scripts.example_run) into dst. Kept
// separate from YAML decoding since this one file in a pushed tree is
// JSON, matching the original ffbox/cli.py convention.
func decodePushConfigJSON(data []byte, dst *PushConfig) error {
	var raw struct {
		Exclude []string `json:"exclude"`
		Scripts struct {
			Run        string `json:"run"`
			ExampleRun string `json:"example_run"`
		} `json:"scripts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dst.Exclude = raw.Exclude
	dst.Scripts.Run = raw.Scripts.Run
	dst.Scripts.ExampleRun = raw.Scripts.ExampleRun
	return nil
}
