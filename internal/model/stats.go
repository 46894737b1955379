package model

type DoctorStats struct {
	Total     int `json:"total Appointments"`
	Pending   int `json:"pending"`
	Booked    int `json:"booked"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

type AdminStats struct {
	Users     int `json:"Users"`
	Doctors   int `json:"Doctors"`
	Admins    int `json:"Admins"`
	Total     int `json:"Total Appointments"`
	Pending   int `json:"pending Appointments"`
	Booked    int `json:"booked Appointments"`
	Completed int `json:"completed Appointments"`
	Cancelled int `json:"cancelled Appointments"`
}
