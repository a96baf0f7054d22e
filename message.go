package main

const (
	MsgMissingImage     = "Missing image_data in request"
	MsgProcessingFailed = "Error processing the image"
	MsgFoundFormat      = "Found %d items"
)
