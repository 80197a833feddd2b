// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	mail "gopkg.in/gomail.v2"
)

type alerter interface {
	alert(subject, body string) error
}

type mailer struct {
	usr  string
	pwd  string
	srv  string
	port int
	tgts []string
}

func newMailer() *mailer {
	return &mailer{
		usr:  os.Getenv("MAIL_USERNAME"),
		pwd:  os.Getenv("MAIL_PASSWORD"),
		srv:  os.Getenv("MAIL_SERVER"),
		port: atoi(os.Getenv("MAIL_PORT")),
		tgts: splitTargets(os.Getenv("MAIL_TGTS")),
	}
}

func (m *mailer) message(subject, body string) (*mail.Message, error) {
	if m.usr == "" || m.pwd == "" || m.srv == "" || m.port == 0 || len(m.tgts) == 0 {
		return nil, fmt.Errorf("could not send mail alert: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.usr)
	msg.SetHeader("Bcc", m.tgts...)
	msg.SetHeader("Subject", "[xsp3-mon] "+subject)
	msg.SetBody("text/plain", body)
	return msg, nil
}

func (m *mailer) alert(subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}

	dial := mail.NewDialer(m.srv, m.port, m.usr, m.pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err = dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}

type sms struct {
	endpoint string
	client   *http.Client
}

func newSMS(endpoint string) *sms {
	return &sms{endpoint: endpoint, client: http.DefaultClient}
}

func (s *sms) alert(subject, body string) error {
	if s.endpoint == "" {
		return fmt.Errorf("could not send sms alert: no end-point")
	}

	var msg struct {
		Action string `json:"action"`
		Data   struct {
			All bool   `json:"all"`
			Msg string `json:"message"`
		} `json:"data"`
	}
	msg.Action = "send"
	msg.Data.All = true
	msg.Data.Msg = "[xsp3-mon]: " + subject

	data := new(bytes.Buffer)
	err := json.NewEncoder(data).Encode(msg)
	if err != nil {
		return fmt.Errorf("could not encode sms to json: %w", err)
	}
	resp, err := s.client.Post(s.endpoint, "application/json", data)
	if err != nil {
		return fmt.Errorf("could not POST sms alert: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Msg string `json:"status"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		return fmt.Errorf("could not decode sms reply: %w", err)
	}
	if status.Msg != "success" {
		return fmt.Errorf("could not send sms: status=%q", status.Msg)
	}
	return nil
}
