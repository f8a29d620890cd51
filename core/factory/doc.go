// Package factory provides a small generic registry used to instantiate
// pluggable modules from configuration. A module is named by a type
// string and configured by a map of raw settings; factories decode the
// settings into typed structs and return the concrete implementation.
//
// The engine uses it to build metrics sinks from config:
//
//	reg := factory.NewRegistry[metrics.Sink]()
//	reg.Register("influx", func(conf map[string]any) (metrics.Sink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return metrics.NewInfluxSink(c.URL), nil
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": u}})
package factory
