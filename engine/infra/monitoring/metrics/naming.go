package metrics

import "strings"

// Namespace prefixes every metric exported by ragpipe.
const Namespace = "ragpipe"

// MetricName prefixes name with the namespace unless already present.
func MetricName(name string) string {
	prefix := Namespace + "_"
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// MetricNameWithSubsystem builds <namespace>_<subsystem>_<name>.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	name = strings.Trim(name, "_")
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return MetricName(subsystem)
	default:
		return MetricName(subsystem + "_" + name)
	}
}
