package plugins

import (
	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/kv/plugins/bbolt"
	"github.com/jrife/strata/storage/kv/plugins/memory"
)

var plugins []kv.Plugin

func init() {
	plugins = append(plugins, bbolt.Plugins()...)
	plugins = append(plugins, memory.Plugins()...)
}

// Plugin returns the plugin whose name matches the given name.
// It returns nil if no such plugin is found.
func Plugin(name string) kv.Plugin {
	for _, plugin := range plugins {
		if plugin.Name() == name {
			return plugin
		}
	}

	return nil
}

// Plugins lists all the plugins that are available
func Plugins() []kv.Plugin {
	return plugins
}

// Names lists the names of all available plugins
func Names() []string {
	names := make([]string, len(plugins))

	for i, plugin := range plugins {
		names[i] = plugin.Name()
	}

	return names
}
