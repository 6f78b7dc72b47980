package utils

const DefaultUserAgent = "rangepull/1.0"
const DefaultWorkers = 1
const MaxWorkers = 16
