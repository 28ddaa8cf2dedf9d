// Package config provides configuration parsing for uiwire servers.
//
// The configuration is stored in uiwire.json at the project root.
// This package handles loading, saving, and validating configuration, and
// turns it into the runtime configs of the socket, flush and capture
// packages.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "addr": ":8080",
//	    "path": "/ws",
//	    "metricsPath": "/metrics",
//	    "allowedOrigins": ["https://app.example.com"]
//	  },
//	  "connection": {
//	    "readTimeout": "60s",
//	    "heartbeatInterval": "20s"
//	  },
//	  "flush": {
//	    "bufferSize": 8192,
//	    "maxChunkSize": 32768,
//	    "timeout": "25ms"
//	  },
//	  "capture": {
//	    "enabled": true,
//	    "backend": "s3",
//	    "bucket": "uiwire-captures",
//	    "region": "eu-west-1"
//	  },
//	  "log": {"level": "debug", "format": "json"},
//	  "dictionary": [
//	    {"tag": 1, "kind": "STRING", "name": "TEXT"},
//	    {"tag": 2, "kind": "LONG", "name": "COUNTER", "compressed": true}
//	  ]
//	}
//
// Durations are Go duration strings. Omitted fields keep their defaults.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//	dict, _ := cfg.BuildDictionary()
package config
