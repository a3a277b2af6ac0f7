package protocol

// ProtocolVersion is bumped when event payload shapes change incompatibly.
const ProtocolVersion = 1
