package config

type WorkerKeyStruct struct {
	SISUploadQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SISUploadQueue: "sis_upload_queue",
}
