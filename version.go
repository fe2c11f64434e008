package parking

// InstrumentationVersion is reported alongside telemetry emitted by this
// module so traces and metrics can be tied to a release.
const InstrumentationVersion = "0.1.0"
