// Package config loads storectl configuration.
//
// The configuration lives in storectl.json, found by walking up from the
// working directory. Without a file storectl runs on defaults: a durable
// sqlite store in ./storectl.db. Any field can be overridden from the
// environment with a STORECTL_ prefix, e.g. STORECTL_BACKEND=file or
// STORECTL_S3_BUCKET=prefs.
//
// # Configuration File Structure
//
//	{
//	  "backend": "sqlite",
//	  "kind": "durable",
//	  "scope": "app",
//	  "codec": "json",
//	  "sqlite": {"path": "data/prefs.db", "maxBytes": 5242880},
//	  "file":   {"dir": ".storectl", "quota": 5242880},
//	  "s3":     {"bucket": "prefs", "prefix": "app/", "region": "eu-west-1"},
//	  "hub": {
//	    "addr": "localhost:7070",
//	    "origins": ["https://app.example.com"],
//	    "pingInterval": "30s",
//	    "metrics": true
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Resolve("", ".", nil)
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
package config
