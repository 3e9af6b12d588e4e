package paddle

var ParseEvent = parseEvent
